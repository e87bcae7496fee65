package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/archives/integral"
	"skyquery/lib/osutil"
)

var (
	integralTarget      *string
	integralPos         *string
	integralObsRadius   *string
	integralStartAfter  *string
	integralStartBefore *string
	integralRevnoMin    *int
	integralRevnoMax    *int

	integralBand *string
)

func init() {
	integralTarget = integralObsCmd.Flags().String("target", "", "catalog source name, resolved to its position")
	integralPos = integralObsCmd.Flags().String("pos", "", `sky position, like "83.63 22.01"`)
	integralObsRadius = integralObsCmd.Flags().String("radius", "", "search radius, default is the IBIS field of view")
	integralStartAfter = integralObsCmd.Flags().String("start-after", "", "earliest observation start, 2003-10-17 or full timestamp")
	integralStartBefore = integralObsCmd.Flags().String("start-before", "", "latest observation start")
	integralRevnoMin = integralObsCmd.Flags().Int("revno-min", 0, "lowest spacecraft revolution number")
	integralRevnoMax = integralObsCmd.Flags().Int("revno-max", 0, "highest spacecraft revolution number")

	integralBand = integralEpochsCmd.Flags().String("band", "", "energy band filter for epoch listings")

	integralCmd.AddCommand(integralSourcesCmd)
	integralCmd.AddCommand(integralObsCmd)
	integralCmd.AddCommand(integralEpochsCmd)
	rootCmd.AddCommand(integralCmd)
}

var integralCmd = &cobra.Command{
	Use:   "integral",
	Short: "Query ISLA, the INTEGRAL science legacy archive.",
}

func integralClient() *integral.Client {
	cfg := loadConfig()
	client, err := integral.NewClient(integral.Options{UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the integral client", err)
	}
	return client
}

// parseObsTime accepts a bare date or a full timestamp.
func parseObsTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t
		}
	}
	osutil.Fatal("invalid time", fmt.Errorf("cannot parse %q, want 2003-10-17 or 2003-10-17T12:00:00", s))
	return time.Time{}
}

var integralSourcesCmd = &cobra.Command{
	Use:   "sources <name>",
	Short: "Search the source catalog by name substring.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := integralClient()

		tbl, err := client.Sources(cmd.Context(), args[0])
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var integralObsCmd = &cobra.Command{
	Use:   "observations (--target <name> | --pos <position>)",
	Short: "Search observations around a source or position.",
	Run: func(cmd *cobra.Command, args []string) {
		client := integralClient()

		q := integral.ObservationQuery{
			Target:      *integralTarget,
			StartAfter:  parseObsTime(*integralStartAfter),
			StartBefore: parseObsTime(*integralStartBefore),
			RevnoMin:    *integralRevnoMin,
			RevnoMax:    *integralRevnoMax,
		}
		if *integralPos != "" {
			pos := parsePosition(*integralPos)
			q.Center = &pos
		}
		if *integralObsRadius != "" {
			q.Radius = parseRadius(*integralObsRadius)
		}

		tbl, err := client.Observations(cmd.Context(), q)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var integralEpochsCmd = &cobra.Command{
	Use:   "epochs <target>",
	Short: "List the observation epochs of a source.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := integralClient()

		epochs, err := client.Epochs(cmd.Context(), args[0], *integralBand)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		for _, epoch := range epochs {
			pterm.Println(epoch)
		}
	},
}
