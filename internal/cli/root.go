// Package cli wires the happytweet command line onto the search pipeline.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/happytweet/internal/config"
	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/logging"
	"github.com/FranksOps/happytweet/internal/metrics"
	"github.com/FranksOps/happytweet/internal/pipeline"
	"github.com/FranksOps/happytweet/internal/query"
	"github.com/FranksOps/happytweet/internal/report"
	"github.com/FranksOps/happytweet/internal/search"
	"github.com/FranksOps/happytweet/internal/sentiment"
	"github.com/FranksOps/happytweet/internal/storage"
	"github.com/FranksOps/happytweet/internal/storage/csvbackend"
	"github.com/FranksOps/happytweet/internal/storage/jsonbackend"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// NewRootCmd returns the happytweet command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "happytweet <term>",
		Short: "Search recent posts and keep the happy ones",
		Long: `happytweet searches the last seven days of public posts for a term,
biases the search toward positive posts and writes the matches as a JSON array.

The bearer token is read from --token or ` + config.TokenEnv + `.`,
		Example: `  happytweet golang -o happy.json
  happytweet '"release day" OR #golang' --lang en --max-results 200 -m overwrite`,
		Args:          cobra.ExactArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v, args[0])
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.happytweet/config.yaml)")
	f.StringP("output", "o", config.DefaultOutput, "output file, or - for stdout")
	f.StringP("token", "t", "", "bearer token (default $"+config.TokenEnv+")")
	f.StringP("mode", "m", "append", "output mode: append|overwrite")
	f.String("format", "", "output format: json|csv (default from the output extension, else json)")
	f.Int("max-results", 0, "stop after this many posts (0 = all available)")
	f.Int("max-pages", 0, "stop after this many pages (0 = no limit)")
	f.Int("page-size", search.MaxPageSize, "posts per request, 10-100")
	f.Bool("allow-partial", false, "keep the posts gathered when --max-pages is hit instead of failing")
	f.String("lang", "", "restrict results to a language code, e.g. en")
	f.Bool("include-retweets", false, "include retweets in the results")
	f.StringSlice("markers", nil, "sentiment markers ORed into the query (default built-in set)")
	f.Bool("no-filter", false, "write every retrieved post, skipping the sentiment filter")
	f.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	f.String("report", "text", "run summary on stderr: text|json|none")
	f.BoolP("verbose", "v", false, "enable debug logging")

	f.String("base-url", "", "search endpoint override")
	f.Float64("requests-per-second", 1, "page request pacing, negative disables")
	f.Duration("timeout", 0, "HTTP timeout per request")
	for _, name := range []string{"base-url", "requests-per-second", "timeout"} {
		_ = f.MarkHidden(name)
	}

	return cmd
}

// bindFlags maps every config key onto the flag of the same name with dashes.
// Flags only override lower layers when they were set explicitly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for _, key := range config.Keys {
		flag := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}
	return nil
}

func run(cmd *cobra.Command, cfg config.Config) error {
	runID := uuid.NewString()
	logger := logging.New(cmd.ErrOrStderr(), cfg.Verbose).With("run_id", runID)
	if cfg.ConfigFile != "" {
		logger.Debug("using config file", "path", cfg.ConfigFile)
	}

	m := metrics.New()

	opts := []query.Option{query.WithLang(cfg.Lang), query.WithRetweets(cfg.IncludeRetweets)}
	if len(cfg.Markers) > 0 {
		opts = append(opts, query.WithMarkers(cfg.Markers...))
	}

	p := &pipeline.Pipeline{
		Builder: query.NewBuilder(opts...),
		Writer:  newWriter(cfg.Format, cmd.OutOrStdout(), logger),
		Metrics: m,
		Logger:  logger,
		RunID:   runID,
	}
	if !cfg.NoFilter {
		p.Filter = sentiment.NewClassifier(nil, nil)
	}

	client, err := search.NewClient(search.Config{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		UserAgent:         "happytweet/" + Version,
		PageSize:          cfg.PageSize,
		MaxResults:        cfg.MaxResults,
		MaxPages:          cfg.MaxPages,
		AllowPartial:      cfg.AllowPartial,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
		OnPage:            p.ObservePage,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	p.Searcher = client

	summary, runErr := p.Run(cmd.Context(), cfg.Term, cfg.Output, cfg.Mode)

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics file", "path", cfg.MetricsFile, "err", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return report.Write(cmd.ErrOrStderr(), cfg.Report, summary)
}

func newWriter(format string, stdout io.Writer, logger *slog.Logger) storage.Writer {
	if format == "csv" {
		return csvbackend.New(stdout, logger)
	}
	return jsonbackend.New(jsonbackend.WithStdout(stdout), jsonbackend.WithLogger(logger))
}

// PrintError writes the human readable form of err to w, in red on a terminal.
func PrintError(w io.Writer, err error) {
	c := color.New(color.FgRed, color.Bold)
	if logging.IsTerminal(w) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	c.Fprint(w, "error: ")
	fmt.Fprintln(w, failure.Message(err))
}
