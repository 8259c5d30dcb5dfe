// Package profiler builds a structured company profile from a company website.
//
// A run fetches the seed page, keeps the links whose URL mentions company topics, asks a
// language model which of those pages are relevant, concatenates the text of up to five of
// them and then queries the model once per configured field.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/metrics"
	"github.com/docutag/profiler/models"
	"github.com/docutag/profiler/ratelimit"
	"github.com/docutag/profiler/slug"
)

const tracerName = "github.com/docutag/profiler"

var (
	// ErrInvalidURL is returned when the seed is not an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid seed URL")
	// ErrSeedUnreachable is returned when the seed page cannot be fetched
	ErrSeedUnreachable = errors.New("failed to fetch or process the base URL")
	// ErrNoRelevantLinks is returned when no page survives classification
	ErrNoRelevantLinks = errors.New("no relevant links found")
)

// PipelineError is a run-level failure. It matches its Kind and its Cause with errors.Is.
type PipelineError struct {
	Kind    error
	SeedURL string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.SeedURL, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.SeedURL, e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Config contains pipeline configuration
type Config struct {
	Workers               int              `mapstructure:"workers"`      // Concurrent fetch+classify / fetch+aggregate tasks
	RelevantCap           int              `mapstructure:"relevant_cap"` // Maximum pages kept after classification
	Keywords              []string         `mapstructure:"keywords"`
	Queries               models.QuerySpec `mapstructure:"queries"`
	RelevanceMaxTokens    int              `mapstructure:"relevance_max_tokens"`
	RelevanceTemperature  float64          `mapstructure:"relevance_temperature"`
	ExtractionMaxTokens   int              `mapstructure:"extraction_max_tokens"`
	ExtractionTemperature float64          `mapstructure:"extraction_temperature"`
	ClassifyPause         time.Duration    `mapstructure:"classify_pause"` // Wait after each relevance query; negative disables
	FieldInterval         time.Duration    `mapstructure:"field_interval"` // Spacing between field queries; negative disables
	StrictVerdict         bool             `mapstructure:"strict_verdict"`
	DeterministicOrder    bool             `mapstructure:"deterministic_order"`
	Fetch                 FetchConfig      `mapstructure:"fetch"`
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Workers:               10,
		RelevantCap:           5,
		Keywords:              append([]string(nil), DefaultKeywords...),
		Queries:               models.DefaultQuerySpec(),
		RelevanceMaxTokens:    50,
		RelevanceTemperature:  0.5,
		ExtractionMaxTokens:   300,
		ExtractionTemperature: 0.5,
		ClassifyPause:         time.Second,
		FieldInterval:         time.Second,
		Fetch:                 DefaultFetchConfig(),
	}
}

// Validate checks the values a run depends on
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.RelevantCap <= 0 {
		return fmt.Errorf("relevant cap must be positive, got %d", c.RelevantCap)
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("at least one query is required")
	}
	seen := make(map[string]bool, len(c.Queries))
	for _, q := range c.Queries {
		if q.Field == "" {
			return fmt.Errorf("query field name is required")
		}
		if seen[q.Field] {
			return fmt.Errorf("duplicate query field: %q", q.Field)
		}
		seen[q.Field] = true
	}
	return nil
}

// Pipeline runs the crawl-filter-extract stages. It holds no per-run state and may be
// shared between goroutines.
type Pipeline struct {
	config        Config
	completer     llm.Completer
	fetcher       Fetcher
	classifyPause ratelimit.Waiter
	fieldLimiter  func() ratelimit.Waiter // Called once per run
	verdict       func(string) bool
	logger        *zap.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithFetcher replaces the HTTP fetcher
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics records pipeline activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClassifyPause replaces the wait taken after every relevance query
func WithClassifyPause(w ratelimit.Waiter) Option {
	return func(p *Pipeline) {
		p.classifyPause = w
	}
}

// WithFieldLimiter replaces the pacing of field queries. w is shared by every run,
// so it sets a budget across concurrent runs instead of per run.
func WithFieldLimiter(w ratelimit.Waiter) Option {
	return func(p *Pipeline) {
		p.fieldLimiter = func() ratelimit.Waiter { return w }
	}
}

// New creates a pipeline around completer. Zero config values take their defaults;
// a negative ClassifyPause or FieldInterval turns that pacing off.
func New(config Config, completer llm.Completer, opts ...Option) *Pipeline {
	config = withDefaults(config)

	p := &Pipeline{
		config:        config,
		completer:     completer,
		classifyPause: ratelimit.Pause(config.ClassifyPause),
		fieldLimiter: func() ratelimit.Waiter {
			return ratelimit.NewLimiter(1, config.FieldInterval)
		},
		verdict: ContainsYes,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}
	if config.StrictVerdict {
		p.verdict = StrictYes
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.fetcher == nil {
		p.fetcher = NewHTTPFetcher(config.Fetch,
			WithFetchLogger(p.logger),
			WithFetchMetrics(p.metrics),
		)
	}

	return p
}

func withDefaults(config Config) Config {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RelevantCap <= 0 {
		config.RelevantCap = defaults.RelevantCap
	}
	if len(config.Keywords) == 0 {
		config.Keywords = defaults.Keywords
	}
	if len(config.Queries) == 0 {
		config.Queries = defaults.Queries
	}
	if config.RelevanceMaxTokens <= 0 {
		config.RelevanceMaxTokens = defaults.RelevanceMaxTokens
	}
	if config.ExtractionMaxTokens <= 0 {
		config.ExtractionMaxTokens = defaults.ExtractionMaxTokens
	}
	if config.RelevanceTemperature <= 0 {
		config.RelevanceTemperature = defaults.RelevanceTemperature
	}
	if config.ExtractionTemperature <= 0 {
		config.ExtractionTemperature = defaults.ExtractionTemperature
	}
	if config.ClassifyPause == 0 {
		config.ClassifyPause = defaults.ClassifyPause
	}
	if config.FieldInterval == 0 {
		config.FieldInterval = defaults.FieldInterval
	}
	config.Fetch = config.Fetch.withDefaults()
	return config
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.config
}

// Extract runs the pipeline and returns only the field mapping
func (p *Pipeline) Extract(ctx context.Context, seedURL string) (models.ExtractionResult, error) {
	profile, err := p.Run(ctx, seedURL)
	if err != nil {
		return nil, err
	}
	return profile.Fields, nil
}

// Run executes every stage for seedURL. The only errors are ErrInvalidURL and a
// *PipelineError for an unreachable seed or an empty relevant set; every other failure
// degrades to partial results.
func (p *Pipeline) Run(ctx context.Context, seedURL string) (*models.Profile, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "profiler.Run", trace.WithAttributes(attribute.String("seed_url", seedURL)))
	defer span.End()

	log := p.logger.With(zap.String("seed_url", seedURL))
	log.Info("pipeline starting")

	profile, err := p.run(ctx, seedURL, log)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.Run(outcome(err), elapsed)
		log.Error("pipeline failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}

	profile.ProcessingTime = elapsed.Seconds()
	p.metrics.Run("success", elapsed)
	log.Info("pipeline finished",
		zap.String("profile_id", profile.ID),
		zap.Int("relevant_links", len(profile.RelevantLinks)),
		zap.Int("failed_fields", len(profile.FailedFields)),
		zap.Duration("elapsed", elapsed),
	)
	return profile, nil
}

func (p *Pipeline) run(ctx context.Context, seedURL string, log *zap.Logger) (*models.Profile, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, seedURL)
	}

	stageCtx, span := p.tracer.Start(ctx, "profiler.FetchSeed")
	page, err := p.fetcher.Fetch(stageCtx, seedURL)
	span.End()
	if err != nil {
		return nil, &PipelineError{Kind: ErrSeedUnreachable, SeedURL: seedURL, Cause: err}
	}

	links := ExtractLinks(page, seedURL)
	log.Info("links extracted", zap.Int("count", len(links)))

	candidates := FilterByKeyword(links, p.config.Keywords)
	log.Info("links filtered by keyword", zap.Int("count", len(candidates)))

	relevant := p.SelectRelevant(ctx, candidates)
	log.Info("relevant links selected", zap.Int("count", len(relevant)))
	if len(relevant) == 0 {
		return nil, &PipelineError{Kind: ErrNoRelevantLinks, SeedURL: seedURL}
	}

	corpus := p.Aggregate(ctx, relevant)
	log.Info("corpus compiled", zap.Int("bytes", len(corpus)))

	fields := p.ExtractFields(ctx, corpus, p.config.Queries)

	return &models.Profile{
		ID:             uuid.New().String(),
		SeedURL:        seedURL,
		Slug:           slug.FromURL(seedURL),
		Fields:         fields,
		RelevantLinks:  relevant,
		LinksFound:     len(links),
		CandidateCount: len(candidates),
		FailedFields:   fields.Failed(),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrSeedUnreachable):
		return "seed_unreachable"
	case errors.Is(err, ErrNoRelevantLinks):
		return "no_relevant_links"
	default:
		return "error"
	}
}
