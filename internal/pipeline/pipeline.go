package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/xfattach/internal/extract"
	"github.com/ppiankov/xfattach/internal/model"
	"github.com/ppiankov/xfattach/internal/naming"
	"github.com/ppiankov/xfattach/internal/scan"
	"github.com/ppiankov/xfattach/internal/util"
	"github.com/ppiankov/xfattach/internal/worker"
)

// Downloader fetches a URL into a destination file
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string, headers http.Header) (*DownloadResult, error)
}

// Pacer spaces consecutive retrieval attempts
type Pacer interface {
	WaitAtLeast(ctx context.Context, floor time.Duration) error
}

// Outcome is the result of one attachment block
type Outcome struct {
	File   string // Export file the block came from
	Index  int    // Position of the block in the file, 0-based
	Block  model.AttachmentBlock
	Path   string // Allocated output path, empty if allocation failed
	Result *DownloadResult
	Err    error
	Kind   Kind
}

// Reporter receives progress events. Implementations must not block for long.
type Reporter interface {
	FileStarted(path string, blocks int)
	FileFailed(path string, err error)
	BlockFinished(outcome Outcome)
}

type nopReporter struct{}

func (nopReporter) FileStarted(string, int) {}

func (nopReporter) FileFailed(string, error) {}

func (nopReporter) BlockFinished(Outcome) {}

// Pipeline orchestrates a complete run over an export tree.
// Files and blocks are processed strictly one after another.
type Pipeline struct {
	downloader Downloader
	limiter    *worker.Limiter
	pacer      Pacer
	robots     *util.RobotsChecker // nil unless robots checks are enabled
	headers    http.Header
	reporter   Reporter
	config     *model.Config
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithReporter sets the progress reporter
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithDownloader replaces the HTTP fetcher
func WithDownloader(d Downloader) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.downloader = d
		}
	}
}

// WithPacer replaces the inter-request pacer
func WithPacer(pacer Pacer) Option {
	return func(p *Pipeline) {
		if pacer != nil {
			p.pacer = pacer
		}
	}
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, opts ...Option) *Pipeline {
	cfg.Normalize()

	p := &Pipeline{
		downloader: NewFetcher(cfg.HTTP),
		limiter:    worker.NewLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst),
		pacer:      worker.NewPacer(cfg.Delay()),
		headers:    BuildHeaders(cfg.HTTP),
		reporter:   nopReporter{},
		config:     cfg,
	}

	if cfg.Robots.Enabled {
		p.robots = util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout, cfg.Robots.CacheTTL)
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run processes every export file under root.
// Only a missing or invalid root, a failed preflight or cancellation return an error;
// per-file and per-block failures are counted in the summary.
func (p *Pipeline) Run(ctx context.Context, root string) (*model.RunSummary, error) {
	files, err := scan.Walk(ctx, root, p.config.Ignore)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if err := util.CheckFreeSpace(root, p.config.Disk.MinFreeMB); err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}

	summary := &model.RunSummary{FilesScanned: len(files)}

	for _, file := range files {
		if err := p.ProcessFile(ctx, file, summary); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// ProcessFile downloads every attachment referenced by one export file.
// It returns an error only when ctx is done.
func (p *Pipeline) ProcessFile(ctx context.Context, file string, summary *model.RunSummary) error {
	text, err := extract.ReadFile(file)
	if err != nil {
		summary.ReadErrors++
		p.reporter.FileFailed(file, &ReadError{Path: file, Err: err})
		return nil
	}

	blocks := extract.Attachments(text)
	if len(blocks) == 0 {
		return nil
	}

	summary.FilesWithMatches++
	summary.Matches += len(blocks)
	p.reporter.FileStarted(file, len(blocks))

	outDir := filepath.Join(filepath.Dir(file), model.AttachmentsDir)
	dirErr := os.MkdirAll(outDir, 0755)

	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := Outcome{File: file, Index: i, Block: block}
		var att attempt
		if dirErr != nil {
			outcome.Err = &WriteError{Path: outDir, Err: dirErr}
		} else if att, err = p.fetchBlock(ctx, outDir, &outcome); err != nil {
			return err
		}

		outcome.Kind = Classify(outcome.Err)
		if outcome.Err != nil {
			summary.Failed++
		} else {
			summary.Downloaded++
		}
		p.reporter.BlockFinished(outcome)

		// The pause follows every request that was sent, failed ones included
		if att.sent {
			if err := p.pacer.WaitAtLeast(ctx, att.crawlDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

// attempt describes what fetchBlock did on the network
type attempt struct {
	sent       bool
	crawlDelay time.Duration
}

// fetchBlock resolves, allocates and downloads one block, recording the result in outcome.
// The returned error is fatal (cancellation before a request went out); block failures go
// into outcome.Err.
func (p *Pipeline) fetchBlock(ctx context.Context, outDir string, outcome *Outcome) (attempt, error) {
	block := outcome.Block

	dest, err := naming.UniquePath(outDir, naming.Resolve(block.Name, block.URL))
	if err != nil {
		outcome.Err = &WriteError{Path: outDir, Err: err}
		return attempt{}, nil
	}
	outcome.Path = dest

	var att attempt
	if p.robots != nil {
		allowed, delay, err := p.robots.CanFetch(ctx, block.URL)
		if err != nil || !allowed {
			outcome.Err = fmt.Errorf("%s: %w", block.URL, ErrRobotsDisallowed)
			return attempt{}, nil
		}
		att.crawlDelay = delay
	}

	if err := p.limiter.Wait(ctx, block.URL); err != nil {
		if ctx.Err() != nil {
			return attempt{}, ctx.Err()
		}
		outcome.Err = fmt.Errorf("rate limit: %w", err)
		return attempt{}, nil
	}

	outcome.Result, outcome.Err = p.downloader.Download(ctx, block.URL, dest, p.headers)
	att.sent = true

	return att, nil
}
