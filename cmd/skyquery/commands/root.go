package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"skyquery/lib/configutil"
	"skyquery/lib/coords"
	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
	"skyquery/lib/querycache"
	"skyquery/lib/restyutil"
	"skyquery/lib/sqliteutil"
	"skyquery/lib/table"
	"skyquery/lib/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "skyquery",
	Short: "skyquery queries astronomical archives from the terminal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*flagVerbose)
		if *flagDumpHTTP != "" {
			telemetry.SetRestyInstrumentOutput(
				restyutil.NewFilesystemOutput(*flagDumpHTTP))
		}
	},
}

var (
	flagVerbose  *bool
	flagCSV      *bool
	flagMaxRows  *int
	flagDumpHTTP *string
)

func init() {
	flagVerbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"debug logging, including http request dumps")
	flagCSV = rootCmd.PersistentFlags().Bool("csv", false,
		"write results to stdout as csv instead of a rendered table")
	flagMaxRows = rootCmd.PersistentFlags().Int("max-rows", 0,
		"print at most this many rows, 0 keeps everything")
	flagDumpHTTP = rootCmd.PersistentFlags().String("dump-http", "",
		"with -v, write every http exchange into this directory")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Config is the optional skyquery.json5 next to the working directory,
// merged with SKYQUERY_* environment variables.
type Config struct {
	// ADSToken skips the keyring for the ADS api token.
	ADSToken string `json:"ads_token" env:"SKYQUERY_ADS_TOKEN"`
	// Cache overrides the catalog/species cache database location,
	// either a local file or a remote libsql url.
	Cache     sqliteutil.Config `json:"cache"`
	UserAgent string            `json:"user_agent" env:"SKYQUERY_USER_AGENT"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("skyquery.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		osutil.Fatal("failed to read skyquery.json5", err)
	}
	err = configutil.ApplyEnv(&cfg)
	if err != nil {
		osutil.Fatal("failed to apply environment config", err)
	}
	return cfg
}

// openCache opens the shared on-disk cache. Failures degrade to
// uncached clients rather than aborting the command.
func openCache(cfg Config) *querycache.Cache {
	dbc := cfg.Cache
	if dbc.Url == "" && dbc.File == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			slog.Warn("no user cache dir, running uncached", "err", err)
			return nil
		}
		dbc.File = filepath.Join(dir, "skyquery", "cache.db")
	}
	if dbc.Url == "" {
		if err := os.MkdirAll(filepath.Dir(dbc.File), 0o755); err != nil {
			slog.Warn("cannot create cache dir, running uncached", "err", err)
			return nil
		}
	}

	db, err := dbc.OpenDB(querycache.Schema)
	if err != nil {
		slog.Warn("cannot open cache db, running uncached", "err", err)
		return nil
	}
	cache := querycache.New(db)
	return &cache
}

func openCredstore() *credstore.Store {
	store, err := credstore.Open()
	if err != nil {
		osutil.Fatal("failed to open the system keyring", err)
	}
	return store
}

// parsePosition reads a sky position argument, decimal or sexagesimal.
func parsePosition(s string) coords.SkyCoord {
	pos, err := coords.Parse(s)
	if err != nil {
		osutil.Fatal("invalid position", err)
	}
	return pos
}

// parseRadius reads an angle flag like "0.5deg" or "30arcsec".
func parseRadius(s string) coords.Angle {
	r, err := coords.ParseAngle(s)
	if err != nil {
		osutil.Fatal("invalid radius", err)
	}
	return r
}

// printTable renders a result honoring the --csv and --max-rows flags.
func printTable(tbl *table.Table) {
	if *flagMaxRows > 0 && tbl.NumRows() > *flagMaxRows {
		slog.Info("truncating output", "shown", *flagMaxRows, "total", tbl.NumRows())
		tbl = tbl.Head(*flagMaxRows)
	}
	if *flagCSV {
		err := tbl.WriteCSV(os.Stdout)
		if err != nil {
			osutil.Fatal("failed to write csv", err)
		}
		return
	}
	fmt.Println(tbl.Render())
}
