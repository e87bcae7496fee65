package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"skyquery/lib/archives/ads"
	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
)

var (
	adsRows   *int
	adsStart  *int
	adsSort   *string
	adsFields *[]string
)

func init() {
	adsRows = adsSearchCmd.Flags().Int("rows", 10, "number of results to return")
	adsStart = adsSearchCmd.Flags().Int("start", 0, "offset into the result list, for paging")
	adsSort = adsSearchCmd.Flags().String("sort", "", `sort order, like "citation_count desc"`)
	adsFields = adsSearchCmd.Flags().StringSlice("fields", nil, "fields to return for each document")

	adsCmd.AddCommand(adsSearchCmd)
	adsCmd.AddCommand(adsBibtexCmd)
	rootCmd.AddCommand(adsCmd)
}

var adsCmd = &cobra.Command{
	Use:   "ads",
	Short: "Search the NASA ADS literature database.",
}

// adsClient resolves the api token from the config file, then the
// keyring entry written by `skyquery login ads`.
func adsClient() *ads.Client {
	cfg := loadConfig()
	token := cfg.ADSToken
	if token == "" {
		stored, err := openCredstore().Token("ads")
		if err != nil && !errors.Is(err, credstore.ErrNotFound) {
			osutil.Fatal("failed to read the ads token from the keyring", err)
		}
		token = stored
	}

	client, err := ads.NewClient(ads.Options{Token: token, UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the ads client", err)
	}
	return client
}

var adsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run an ADS query, like 'author:\"Penzias\" year:1965'.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := adsClient()

		opts := []ads.SearchOption{ads.WithRows(*adsRows)}
		if *adsStart > 0 {
			opts = append(opts, ads.WithStart(*adsStart))
		}
		if *adsSort != "" {
			opts = append(opts, ads.WithSort(*adsSort))
		}
		if len(*adsFields) > 0 {
			opts = append(opts, ads.WithFields(*adsFields...))
		}

		tbl, err := client.Search(cmd.Context(), args[0], opts...)
		if err != nil {
			osutil.Fatal("search failed", err)
		}
		printTable(tbl)
	},
}

var adsBibtexCmd = &cobra.Command{
	Use:   "bibtex <bibcode>...",
	Short: "Export bibtex records for the given bibcodes.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := adsClient()

		bib, err := client.ExportBibTeX(cmd.Context(), args)
		if err != nil {
			osutil.Fatal("export failed", err)
		}
		fmt.Print(bib)
	},
}
