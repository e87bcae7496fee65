package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"skyquery/lib/archives/alma"
	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
)

var almaRadius *string

func init() {
	almaRadius = almaConeCmd.Flags().String("radius", "1arcmin", "search radius, like 0.5deg or 30arcsec")

	almaCmd.AddCommand(almaObjectCmd)
	almaCmd.AddCommand(almaConeCmd)
	almaCmd.AddCommand(almaDatainfoCmd)
	rootCmd.AddCommand(almaCmd)
}

var almaCmd = &cobra.Command{
	Use:   "alma",
	Short: "Query the ALMA science archive.",
}

// almaClient logs in when `skyquery login alma` stored credentials,
// otherwise the archive serves public data anonymously.
func almaClient(ctx context.Context) *alma.Client {
	cfg := loadConfig()
	client, err := alma.NewClient(alma.Options{UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the alma client", err)
	}

	creds, err := openCredstore().Credentials("alma")
	if errors.Is(err, credstore.ErrNotFound) {
		return client
	}
	if err != nil {
		osutil.Fatal("failed to read alma credentials", err)
	}
	err = client.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		osutil.Fatal("failed to login to alma", err)
	}
	return client
}

var almaObjectCmd = &cobra.Command{
	Use:   "object <name>",
	Short: "List observations of a named target.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := almaClient(cmd.Context())

		tbl, err := client.QueryObject(cmd.Context(), args[0])
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var almaConeCmd = &cobra.Command{
	Use:   "cone <position>",
	Short: "List observations whose footprint covers a cone on the sky.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := almaClient(cmd.Context())

		tbl, err := client.QueryRegion(cmd.Context(), parsePosition(args[0]), parseRadius(*almaRadius))
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}

var almaDatainfoCmd = &cobra.Command{
	Use:   "datainfo <uid>",
	Short: "List the files behind a member observation unit set, like uid://A001/X88a/X2b.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := almaClient(cmd.Context())

		tbl, err := client.DataInfo(cmd.Context(), args[0])
		if err != nil {
			osutil.Fatal("datalink query failed", err)
		}
		printTable(tbl)
	},
}
