package commands

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/archives/esahubble"
	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
)

var (
	hubbleRadius *string

	hubbleInstrument *string
	hubbleFilters    *[]string
	hubbleMinLevel   *int
	hubbleCollection *string
	hubbleProposal   *int

	hubbleLevel       *string
	hubbleOut         *string
	hubblePostcardOut *string
)

func init() {
	hubbleRadius = hubbleConeCmd.Flags().String("radius", "1arcmin", "search radius, like 0.5deg or 30arcsec")

	for _, cmd := range []*cobra.Command{hubbleConeCmd, hubbleTargetCmd, hubbleCriteriaCmd} {
		cmd.Flags().StringSlice("columns", nil, "columns to select instead of the default set")
		cmd.Flags().Int("limit", 0, "max rows to return, 0 keeps the server default")
	}

	hubbleInstrument = hubbleCriteriaCmd.Flags().String("instrument", "", "instrument name, like WFC3")
	hubbleFilters = hubbleCriteriaCmd.Flags().StringSlice("filter", nil, "filter or grating names, any may match")
	hubbleMinLevel = hubbleCriteriaCmd.Flags().Int("min-level", 0, "minimum calibration level, 1 raw through 3 product")
	hubbleCollection = hubbleCriteriaCmd.Flags().String("collection", "", "collection, like HST or HLA")
	hubbleProposal = hubbleCriteriaCmd.Flags().Int("proposal", 0, "proposal id")

	hubbleLevel = hubbleDownloadCmd.Flags().String("level", "",
		"calibration level: RAW, CALIBRATED, PRODUCT or AUXILIARY")
	hubbleOut = hubbleDownloadCmd.Flags().String("out", "", "output path, default is the archive file name")
	hubblePostcardOut = hubblePostcardCmd.Flags().String("out", "", "output path, default is the archive file name")

	hubbleCmd.AddCommand(hubbleConeCmd)
	hubbleCmd.AddCommand(hubbleTargetCmd)
	hubbleCmd.AddCommand(hubbleCriteriaCmd)
	hubbleCmd.AddCommand(hubbleDownloadCmd)
	hubbleCmd.AddCommand(hubblePostcardCmd)
	rootCmd.AddCommand(hubbleCmd)
}

var hubbleCmd = &cobra.Command{
	Use:   "hubble",
	Short: "Query the ESA Hubble science archive.",
}

// hubbleClient logs in when `skyquery login hubble` stored credentials,
// which unlocks proprietary downloads.
func hubbleClient(ctx context.Context) *esahubble.Client {
	cfg := loadConfig()
	client, err := esahubble.NewClient(esahubble.Options{UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the hubble client", err)
	}

	creds, err := openCredstore().Credentials("hubble")
	if errors.Is(err, credstore.ErrNotFound) {
		return client
	}
	if err != nil {
		osutil.Fatal("failed to read hubble credentials", err)
	}
	err = client.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		osutil.Fatal("failed to login to the esa hubble archive", err)
	}
	return client
}

func hubbleSearchOptions(cmd *cobra.Command) []esahubble.SearchOption {
	var opts []esahubble.SearchOption
	if columns, err := cmd.Flags().GetStringSlice("columns"); err == nil && len(columns) > 0 {
		opts = append(opts, esahubble.WithColumns(columns...))
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil && limit > 0 {
		opts = append(opts, esahubble.WithLimit(limit))
	}
	return opts
}

var hubbleConeCmd = &cobra.Command{
	Use:   "cone <position>",
	Short: "List observations within a cone on the sky.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := hubbleClient(cmd.Context())

		tbl, err := client.ConeSearch(cmd.Context(),
			parsePosition(args[0]), parseRadius(*hubbleRadius), hubbleSearchOptions(cmd)...)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var hubbleTargetCmd = &cobra.Command{
	Use:   "target <name>",
	Short: "List observations by target name substring.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := hubbleClient(cmd.Context())

		tbl, err := client.QueryTarget(cmd.Context(), args[0], hubbleSearchOptions(cmd)...)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var hubbleCriteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "List observations matching instrument, filter, level, collection or proposal.",
	Run: func(cmd *cobra.Command, args []string) {
		client := hubbleClient(cmd.Context())

		tbl, err := client.QueryCriteria(cmd.Context(), esahubble.Criteria{
			Instrument:          *hubbleInstrument,
			Filters:             *hubbleFilters,
			MinCalibrationLevel: *hubbleMinLevel,
			Collection:          *hubbleCollection,
			ProposalID:          *hubbleProposal,
		}, hubbleSearchOptions(cmd)...)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

// saveDownload streams a download into a temp file, then renames it to
// the --out path or the name the archive picked.
func saveDownload(out string, run func(w io.Writer) (string, error)) {
	tmp, err := os.CreateTemp(".", ".skyquery-download-*")
	if err != nil {
		osutil.Fatal("failed to create output file", err)
	}
	name, err := run(tmp)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		osutil.Fatal("download failed", err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		osutil.Fatal("failed to write output", closeErr)
	}

	if out == "" {
		out = name
	}
	err = os.Rename(tmp.Name(), out)
	if err != nil {
		osutil.Fatal("failed to move output into place", err)
	}
	pterm.Println("wrote " + out)
}

var hubbleDownloadCmd = &cobra.Command{
	Use:   "download <observationID>",
	Short: "Download the data products of an observation.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := hubbleClient(cmd.Context())

		saveDownload(*hubbleOut, func(w io.Writer) (string, error) {
			return client.DownloadProduct(cmd.Context(), args[0], *hubbleLevel, w)
		})
	},
}

var hubblePostcardCmd = &cobra.Command{
	Use:   "postcard <observationID>",
	Short: "Download the preview image of an observation.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := hubbleClient(cmd.Context())

		saveDownload(*hubblePostcardOut, func(w io.Writer) (string, error) {
			return client.Postcard(cmd.Context(), args[0], w)
		})
	},
}
