package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"skyquery/lib/archives/nist"
	"skyquery/lib/osutil"
)

var (
	nistLow    *float64
	nistHigh   *float64
	nistUnit   *string
	nistMedium *string
)

func init() {
	nistLow = nistLinesCmd.Flags().Float64("low", 4000, "lower wavelength bound")
	nistHigh = nistLinesCmd.Flags().Float64("high", 7000, "upper wavelength bound")
	nistUnit = nistLinesCmd.Flags().String("unit", "angstrom", "wavelength unit: angstrom, nm or um")
	nistMedium = nistLinesCmd.Flags().String("medium", "vacuum", "tabulated medium: vacuum or vacuum+air")

	nistCmd.AddCommand(nistLinesCmd)
	rootCmd.AddCommand(nistCmd)
}

var nistCmd = &cobra.Command{
	Use:   "nist",
	Short: "Query the NIST atomic spectra database.",
}

func nistUnitFlag() nist.Unit {
	switch *nistUnit {
	case "angstrom", "aa", "a":
		return nist.Angstrom
	case "nm":
		return nist.Nanometer
	case "um":
		return nist.Micrometer
	}
	osutil.Fatal("invalid unit", fmt.Errorf("unknown wavelength unit %q, want angstrom, nm or um", *nistUnit))
	return nist.Angstrom
}

func nistMediumFlag() nist.WavelengthType {
	switch *nistMedium {
	case "vacuum":
		return nist.Vacuum
	case "vacuum+air":
		return nist.VacuumAndAir
	}
	osutil.Fatal("invalid medium", fmt.Errorf("unknown medium %q, want vacuum or vacuum+air", *nistMedium))
	return nist.Vacuum
}

var nistLinesCmd = &cobra.Command{
	Use:   "lines <spectrum>",
	Short: "List atomic transition lines of a spectrum, like 'H I' or 'Fe II'.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, err := nist.NewClient(nist.Options{UserAgent: cfg.UserAgent})
		if err != nil {
			osutil.Fatal("failed to initialize the nist client", err)
		}

		tbl, err := client.QueryLines(cmd.Context(), args[0], *nistLow, *nistHigh,
			nist.WithUnit(nistUnitFlag()), nist.WithWavelengthType(nistMediumFlag()))
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}
