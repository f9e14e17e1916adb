// Package app wires the newsflow worker command line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kart-io/newsflow/cmd/newsflow-worker/app/options"
	"github.com/kart-io/newsflow/pkg/infra/app"
)

const (
	// Name is the name of the application.
	Name = "newsflow-worker"

	commandDesc = `Newsflow content intelligence worker

The worker claims pending ingestion and analysis runs from MongoDB and
processes them to completion:

  - Ingestion: web search / RSS collection, URL-to-Markdown conversion,
    LLM content cleaning, and vector indexing into Milvus
  - Analysis: HDBSCAN clustering over article embeddings, followed by
    LLM cluster overviews, relevance evaluation, conversation starters,
    and a workspace summary

Maintenance subcommands create ingestion runs, recover stalled runs, and
rebuild the vector index.`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewWorkerOptions()
	a := app.NewApp(
		app.WithName(Name),
		app.WithShortDescription("Newsflow content intelligence worker"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
	)

	addCommands(a, opts)
	return a
}

func addCommands(a *app.App, opts *options.WorkerOptions) {
	a.AddCommand(&app.Command{
		Use:   "watch",
		Short: "Run the worker loop, claiming and processing pending runs",
		Args:  cobra.NoArgs,
		Flags: func(fs *pflag.FlagSet) {
			fs.DurationVar(&opts.Worker.PollInterval, "interval", opts.Worker.PollInterval, "Polling interval when the run queue is empty.")
			fs.DurationVar(&opts.Worker.MaxRuntime, "max-runtime", opts.Worker.MaxRuntime, "Maximum runtime before a clean exit (0 = unlimited).")
		},
		Run: runWatch(opts),
	})

	a.AddCommand(&app.Command{
		Use:   "create-ingestion-task CONFIG_ID",
		Short: "Create a pending ingestion run for a single config",
		Args:  cobra.ExactArgs(1),
		Run:   runCreateIngestionTask(opts),
	})

	createTasks := &createTasksFlags{}
	a.AddCommand(&app.Command{
		Use:   "create-ingestion-tasks",
		Short: "Create pending ingestion runs for all enabled configs",
		Args:  cobra.NoArgs,
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&createTasks.workspace, "workspace", "w", "", "Restrict to a single workspace id.")
			fs.StringVarP(&createTasks.configType, "type", "t", "", "Restrict to one config type (search|rss).")
		},
		Run: runCreateIngestionTasks(opts, createTasks),
	})

	sync := &syncFlags{}
	a.AddCommand(&app.Command{
		Use:   "sync-vector-db",
		Short: "Synchronize article embeddings into the vector database",
		Args:  cobra.NoArgs,
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVarP(&sync.workspace, "workspace", "w", "", "Sync a single workspace id instead of all enabled ones.")
			fs.StringSliceVarP(&sync.exclude, "exclude", "e", nil, "Workspace ids to skip.")
			fs.BoolVar(&sync.force, "force", false, "Re-embed and rewrite all articles, not only pending ones.")
		},
		Run: runSyncVectorDB(opts, sync),
	})

	timeout := &timeoutFlags{}
	a.AddCommand(&app.Command{
		Use:   "timeout-stalled-runs",
		Short: "Mark long-running ingestion runs as failed",
		Args:  cobra.NoArgs,
		Flags: func(fs *pflag.FlagSet) {
			fs.IntVarP(&timeout.thresholdHours, "threshold", "t", 0, "Age threshold in hours (default: worker.stalled-after).")
			fs.StringVarP(&timeout.workspace, "workspace", "w", "", "Restrict to a single workspace id.")
			fs.BoolVar(&timeout.dryRun, "dry-run", false, "List stalled runs without modifying them.")
		},
		Run: runTimeoutStalledRuns(opts, timeout),
	})
}

type createTasksFlags struct {
	workspace  string
	configType string
}

type syncFlags struct {
	workspace string
	exclude   []string
	force     bool
}

type timeoutFlags struct {
	thresholdHours int
	workspace      string
	dryRun         bool
}
