package commands

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/osutil"
	"skyquery/lib/tap"
	"skyquery/lib/votable"
)

var (
	tapURL    *string
	tapAsync  *bool
	tapMaxRec *int
)

func init() {
	tapURL = tapCmd.PersistentFlags().String("url", "", "tap service base url, like https://almascience.eso.org/tap")

	tapAsync = tapQueryCmd.Flags().Bool("async", false, "run as a uws job instead of a sync request")
	tapMaxRec = tapQueryCmd.Flags().Int("maxrec", 0, "server side row cap, 0 keeps the service default")

	tapCmd.AddCommand(tapQueryCmd)
	tapCmd.AddCommand(tapJobsCmd)
	tapCmd.AddCommand(tapDeleteCmd)
	tapCmd.AddCommand(tapTablesCmd)
	rootCmd.AddCommand(tapCmd)
}

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Talk to any TAP service directly.",
}

func tapClient() *tap.Client {
	if *tapURL == "" {
		osutil.Fatal("missing service", fmt.Errorf("--url is required"))
	}
	cfg := loadConfig()
	client, err := tap.NewClient(tap.Options{BaseURL: *tapURL, UserAgent: cfg.UserAgent})
	if err != nil {
		osutil.Fatal("failed to initialize the tap client", err)
	}
	return client
}

var tapQueryCmd = &cobra.Command{
	Use:   "query <adql>",
	Short: "Run an ADQL query against the service.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := tapClient()

		var opts []tap.QueryOption
		if *tapMaxRec > 0 {
			opts = append(opts, tap.WithMaxRec(*tapMaxRec))
		}

		var res votable.Result
		var err error
		if *tapAsync {
			res, err = runAsyncQuery(cmd, client, args[0], opts)
		} else {
			res, err = client.Query(cmd.Context(), args[0], opts...)
		}
		if err != nil {
			osutil.Fatal("query failed", err)
		}
		if res.Truncated {
			slog.Warn("result truncated by the service row limit")
		}
		printTable(res.Table)
	},
}

// runAsyncQuery drives the uws job by hand instead of tap.QueryAsync,
// so a spinner can track the phase while the job runs.
func runAsyncQuery(cmd *cobra.Command, client *tap.Client, query string, opts []tap.QueryOption) (votable.Result, error) {
	ctx := cmd.Context()

	job, err := client.SubmitJob(ctx, query, opts...)
	if err != nil {
		return votable.Result{}, err
	}

	spinner, serr := pterm.DefaultSpinner.Start("waiting for job " + job.ID)
	job, err = client.Wait(ctx, job.ID)
	if serr == nil {
		spinner.Stop()
	}
	if err != nil {
		return votable.Result{}, err
	}

	switch job.Phase {
	case tap.PhaseCompleted:
	case tap.PhaseError:
		message := job.ErrorMessage
		if message == "" {
			message, _ = client.JobError(ctx, job.ID)
		}
		if message == "" {
			message = "job failed without an error summary"
		}
		return votable.Result{}, votable.QueryError{Message: message}
	default:
		return votable.Result{}, fmt.Errorf("job %s ended in phase %s", job.ID, job.Phase)
	}

	res, err := client.Results(ctx, job.ID)
	if err != nil {
		return votable.Result{}, err
	}
	err = client.DeleteJob(ctx, job.ID)
	if err != nil {
		slog.Warn("failed to delete completed tap job", "job", job.ID, "err", err)
	}
	return res, nil
}

var tapJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the async jobs the service remembers for this session.",
	Run: func(cmd *cobra.Command, args []string) {
		client := tapClient()

		jobs, err := client.ListJobs(cmd.Context())
		if err != nil {
			osutil.Fatal("job listing failed", err)
		}
		if len(jobs) == 0 {
			pterm.Println("no jobs")
			return
		}
		for _, job := range jobs {
			pterm.Println(job.ID + "\t" + string(job.Phase))
		}
	},
}

var tapDeleteCmd = &cobra.Command{
	Use:   "delete <jobID>...",
	Short: "Delete async jobs server side.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := tapClient()

		for _, id := range args {
			err := client.DeleteJob(cmd.Context(), id)
			if err != nil {
				osutil.Fatal("failed to delete job "+id, err)
			}
			pterm.Println("deleted " + id)
		}
	},
}

var tapTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the queryable schemas and tables of the service.",
	Run: func(cmd *cobra.Command, args []string) {
		client := tapClient()

		schemas, err := client.Tables(cmd.Context())
		if err != nil {
			osutil.Fatal("tables listing failed", err)
		}
		for _, schema := range schemas {
			pterm.Println(pterm.NewStyle(pterm.Bold).Sprint(schema.Name))
			for _, tbl := range schema.Tables {
				line := "  " + tbl.Name
				if tbl.Description != "" {
					line += "  " + tbl.Description
				}
				pterm.Println(line)
			}
		}
	},
}
