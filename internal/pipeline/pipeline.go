package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/FranksOps/happytweet/internal/metrics"
	"github.com/FranksOps/happytweet/internal/query"
	"github.com/FranksOps/happytweet/internal/report"
	"github.com/FranksOps/happytweet/internal/search"
	"github.com/FranksOps/happytweet/internal/storage"
)

// Searcher yields the posts matching a query.
type Searcher interface {
	Fetch(ctx context.Context, q query.Query) iter.Seq2[storage.Post, error]
}

// Filter decides which retrieved posts are kept.
type Filter interface {
	Filter(posts []storage.Post) (kept []storage.Post, dropped int)
}

// Pipeline runs the stages of one search: build the query, fetch every page,
// filter the posts and hand them to the writer. Nothing is written when any
// stage before the writer fails.
type Pipeline struct {
	Builder  *query.Builder
	Searcher Searcher
	// Filter is optional; nil keeps every post.
	Filter  Filter
	Writer  storage.Writer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	RunID   string
	Now     func() time.Time

	pages int
}

// ObservePage counts fetched pages. Pass it as search.Config.OnPage.
func (p *Pipeline) ObservePage(search.PageInfo) {
	p.pages++
}

// Run executes the pipeline for term and returns the run summary. The
// summary is filled as far as the run got, also when an error is returned.
func (p *Pipeline) Run(ctx context.Context, term, destination string, mode storage.Mode) (summary report.Summary, err error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	summary = report.Summary{
		RunID:     p.RunID,
		Output:    destination,
		Mode:      mode.String(),
		StartTime: now(),
	}
	defer func() { summary.Finish(now()) }()
	p.pages = 0

	if p.Builder == nil {
		return summary, fmt.Errorf("pipeline: query builder is nil")
	}
	if p.Searcher == nil {
		return summary, fmt.Errorf("pipeline: searcher is nil")
	}
	if p.Writer == nil {
		return summary, fmt.Errorf("pipeline: writer is nil")
	}

	// Stage 1: build the query
	q, err := p.Builder.Build(term)
	if err != nil {
		return summary, fmt.Errorf("build query: %w", err)
	}
	summary.Query = q.String()
	logger.Info("searching", "query", q.String())

	// Stage 2: drain the result sequence
	var posts []storage.Post
	for post, err := range p.Searcher.Fetch(ctx, q) {
		if err != nil {
			summary.Pages = p.pages
			summary.Fetched = len(posts)
			return summary, fmt.Errorf("search failed: %w", err)
		}
		posts = append(posts, post)
	}
	summary.Pages = p.pages
	summary.Fetched = len(posts)

	// Stage 3: keep the happy ones
	kept := posts
	if p.Filter != nil {
		var dropped int
		kept, dropped = p.Filter.Filter(posts)
		summary.Dropped = dropped
		p.Metrics.AddDropped(dropped)
		logger.Debug("filtered posts", "kept", len(kept), "dropped", dropped)
	}
	summary.Kept = len(kept)

	// Stage 4: persist
	stats, err := p.Writer.Write(ctx, kept, destination, mode)
	if err != nil {
		return summary, fmt.Errorf("write results: %w", err)
	}
	summary.ApplyStats(stats)
	p.Metrics.AddWritten(stats.Added)

	logger.Info("run complete",
		"pages", summary.Pages,
		"fetched", summary.Fetched,
		"kept", summary.Kept,
		"added", stats.Added,
		"total", stats.Total,
	)
	return summary, nil
}
