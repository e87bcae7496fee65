package commands

import (
	"github.com/spf13/cobra"

	"skyquery/lib/archives/splatalogue"
	"skyquery/lib/osutil"
	"skyquery/lib/table"
)

var (
	splatMinFreq   *float64
	splatMaxFreq   *float64
	splatSpecies   *string
	splatChemical  *string
	splatEnergyMax *float64
	splatLineLists *[]string
)

func init() {
	splatMinFreq = splatLinesCmd.Flags().Float64("min", 0, "lower rest frequency bound in GHz")
	splatMaxFreq = splatLinesCmd.Flags().Float64("max", 0, "upper rest frequency bound in GHz")
	splatSpecies = splatLinesCmd.Flags().String("species", "", "species name pattern, resolved against the catalog")
	splatChemical = splatLinesCmd.Flags().String("chemical", "", "free text chemical name filter")
	splatEnergyMax = splatLinesCmd.Flags().Float64("energy-max", 0, "upper state energy cap in Kelvin")
	splatLineLists = splatLinesCmd.Flags().StringSlice("linelist", nil, "catalogs to consult, default all")

	splatCmd.AddCommand(splatSpeciesCmd)
	splatCmd.AddCommand(splatLinesCmd)
	rootCmd.AddCommand(splatCmd)
}

var splatCmd = &cobra.Command{
	Use:   "splat",
	Short: "Query the Splatalogue spectral line catalog.",
}

func splatClient() *splatalogue.Client {
	cfg := loadConfig()
	client, err := splatalogue.NewClient(splatalogue.Options{
		UserAgent: cfg.UserAgent,
		Cache:     openCache(cfg),
	})
	if err != nil {
		osutil.Fatal("failed to initialize the splatalogue client", err)
	}
	return client
}

var splatSpeciesCmd = &cobra.Command{
	Use:   "species <pattern>",
	Short: "Resolve a species name pattern against the catalog.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := splatClient()

		species, err := client.SpeciesIDs(cmd.Context(), args[0])
		if err != nil {
			osutil.Fatal("species lookup failed", err)
		}

		tbl := table.New(
			table.ColumnMeta{Name: "id", DType: table.String},
			table.ColumnMeta{Name: "species", DType: table.String},
		)
		for _, s := range species {
			if err := tbl.AppendRow(s.ID, s.Name); err != nil {
				osutil.Fatal("failed to build table", err)
			}
		}
		printTable(tbl)
	},
}

var splatLinesCmd = &cobra.Command{
	Use:   "lines --min <GHz> --max <GHz>",
	Short: "List spectral lines in a rest frequency range.",
	Run: func(cmd *cobra.Command, args []string) {
		client := splatClient()

		q := splatalogue.LineQuery{
			MinFreq:      *splatMinFreq,
			MaxFreq:      *splatMaxFreq,
			ChemicalName: *splatChemical,
			EnergyMaxK:   *splatEnergyMax,
			LineLists:    *splatLineLists,
		}
		if *splatSpecies != "" {
			species, err := client.SpeciesIDs(cmd.Context(), *splatSpecies)
			if err != nil {
				osutil.Fatal("species lookup failed", err)
			}
			for _, s := range species {
				q.SpeciesIDs = append(q.SpeciesIDs, s.ID)
			}
		}

		tbl, err := client.QueryLines(cmd.Context(), q)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}
