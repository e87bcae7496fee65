package commands

import (
	"time"

	"github.com/spf13/cobra"

	"skyquery/lib/archives/skybot"
	"skyquery/lib/osutil"
)

var (
	skybotRadius   *string
	skybotEpoch    *string
	skybotObserver *string
	skybotFilter   *string
	skybotPosError *float64
)

func init() {
	skybotRadius = skybotConeCmd.Flags().String("radius", "10arcmin", "search radius, at most 10deg")
	skybotEpoch = skybotConeCmd.Flags().String("epoch", "", "epoch of the search, default is now")
	skybotObserver = skybotConeCmd.Flags().String("observer", "", "IAU observatory code, like 500 for geocenter")
	skybotFilter = skybotConeCmd.Flags().String("filter", "", "object classes to keep, like 110 for asteroids, planets, comets")
	skybotPosError = skybotConeCmd.Flags().Float64("pos-error", 0, "max positional uncertainty in arcsec, 0 keeps everything")

	skybotCmd.AddCommand(skybotConeCmd)
	rootCmd.AddCommand(skybotCmd)
}

var skybotCmd = &cobra.Command{
	Use:   "skybot",
	Short: "Identify solar system objects crossing a field of view.",
}

var skybotConeCmd = &cobra.Command{
	Use:   "cone <position>",
	Short: "List known solar system bodies inside a cone at an epoch.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client, err := skybot.NewClient(skybot.Options{UserAgent: cfg.UserAgent})
		if err != nil {
			osutil.Fatal("failed to initialize the skybot client", err)
		}

		epoch := time.Now()
		if *skybotEpoch != "" {
			epoch = parseObsTime(*skybotEpoch)
		}

		var opts []skybot.ConeOption
		if *skybotObserver != "" {
			opts = append(opts, skybot.WithObserver(*skybotObserver))
		}
		if *skybotFilter != "" {
			opts = append(opts, skybot.WithObjectFilter(*skybotFilter))
		}
		if *skybotPosError > 0 {
			opts = append(opts, skybot.WithPositionError(*skybotPosError))
		}

		tbl, err := client.ConeSearch(cmd.Context(),
			parsePosition(args[0]), parseRadius(*skybotRadius), epoch, opts...)
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		printTable(tbl)
	},
}
