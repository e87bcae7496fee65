package commands

import (
	"context"
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/archives/cadc"
	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
)

var cadcRadius *string

func init() {
	cadcRadius = cadcConeCmd.Flags().String("radius", "1arcmin", "search radius, like 0.5deg or 30arcsec")

	cadcCmd.AddCommand(cadcConeCmd)
	cadcCmd.AddCommand(cadcNameCmd)
	cadcCmd.AddCommand(cadcCollectionsCmd)
	cadcCmd.AddCommand(cadcURLsCmd)
	rootCmd.AddCommand(cadcCmd)
}

var cadcCmd = &cobra.Command{
	Use:   "cadc",
	Short: "Query the Canadian Astronomy Data Centre.",
}

// cadcClient logs in when `skyquery login cadc` stored credentials,
// public metadata works anonymously.
func cadcClient(ctx context.Context) *cadc.Client {
	cfg := loadConfig()
	client, err := cadc.NewClient(cadc.Options{UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the cadc client", err)
	}

	creds, err := openCredstore().Credentials("cadc")
	if errors.Is(err, credstore.ErrNotFound) {
		return client
	}
	if err != nil {
		osutil.Fatal("failed to read cadc credentials", err)
	}
	err = client.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		osutil.Fatal("failed to login to cadc", err)
	}
	return client
}

var cadcConeCmd = &cobra.Command{
	Use:   "cone <position>",
	Short: "List observations whose footprint intersects a cone on the sky.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := cadcClient(cmd.Context())

		tbl, err := client.QueryRegion(cmd.Context(), parsePosition(args[0]), parseRadius(*cadcRadius))
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var cadcNameCmd = &cobra.Command{
	Use:   "name <target>",
	Short: "List observations by target name substring.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := cadcClient(cmd.Context())

		tbl, err := client.QueryName(cmd.Context(), args[0])
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var cadcCollectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the archive collections, like CFHT or JWST.",
	Run: func(cmd *cobra.Command, args []string) {
		client := cadcClient(cmd.Context())

		collections, err := client.Collections(cmd.Context())
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		for _, name := range collections {
			pterm.Println(name)
		}
	},
}

var cadcURLsCmd = &cobra.Command{
	Use:   "urls <publisherID>...",
	Short: "Resolve publisher IDs from query results into download urls.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := cadcClient(cmd.Context())

		urls, err := client.DataURLs(cmd.Context(), args...)
		if err != nil {
			osutil.Fatal("datalink query failed", err)
		}
		for _, u := range urls {
			pterm.Println(u)
		}
	},
}
