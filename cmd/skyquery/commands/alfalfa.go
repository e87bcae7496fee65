package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/archives/alfalfa"
	"skyquery/lib/osutil"
)

var (
	alfalfaRadius        *string
	alfalfaNearestRadius *string
)

func init() {
	alfalfaRadius = alfalfaConeCmd.Flags().String("radius", "3arcmin", "search radius, like 0.5deg or 30arcsec")
	alfalfaNearestRadius = alfalfaNearestCmd.Flags().String("radius", "3arcmin", "max distance of the match")

	alfalfaCmd.AddCommand(alfalfaConeCmd)
	alfalfaCmd.AddCommand(alfalfaNearestCmd)
	rootCmd.AddCommand(alfalfaCmd)
}

var alfalfaCmd = &cobra.Command{
	Use:   "alfalfa",
	Short: "Query the ALFALFA extragalactic HI survey catalog.",
}

func alfalfaClient() *alfalfa.Client {
	cfg := loadConfig()
	client, err := alfalfa.NewClient(alfalfa.Options{
		UserAgent: cfg.UserAgent,
		Cache:     openCache(cfg),
	})
	if err != nil {
		osutil.Fatal("failed to initialize the alfalfa client", err)
	}
	return client
}

var alfalfaConeCmd = &cobra.Command{
	Use:   "cone <position>",
	Short: "List catalog sources within a cone on the sky.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := alfalfaClient()

		tbl, err := client.QueryRegion(cmd.Context(), parsePosition(args[0]), parseRadius(*alfalfaRadius))
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var alfalfaNearestCmd = &cobra.Command{
	Use:   "nearest <position>",
	Short: "Show the closest catalog source to a position.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := alfalfaClient()

		tbl, sep, err := client.Nearest(cmd.Context(), parsePosition(args[0]), parseRadius(*alfalfaNearestRadius))
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		pterm.Println("separation: " + sep.String())
		printTable(tbl)
	},
}
