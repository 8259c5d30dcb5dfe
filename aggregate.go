package profiler

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// corpusSeparator separates page texts in the corpus
const corpusSeparator = "\n\n"

// Aggregate fetches links concurrently and joins their visible text in completion order.
// Pages that fail to fetch or carry no text are left out.
func (p *Pipeline) Aggregate(ctx context.Context, links []string) string {
	ctx, span := p.tracer.Start(ctx, "profiler.Aggregate",
		trace.WithAttributes(attribute.Int("links", len(links))))
	defer span.End()

	var (
		mu    sync.Mutex
		texts []string
	)

	g := new(errgroup.Group)
	g.SetLimit(p.config.Workers)

	for _, link := range links {
		g.Go(func() error {
			page, err := p.fetcher.Fetch(ctx, link)
			if err != nil {
				p.logger.Warn("dropping page from corpus", zap.String("url", link), zap.Error(err))
				return nil
			}
			text := ExtractText(page)
			if text == "" {
				return nil
			}
			mu.Lock()
			texts = append(texts, text)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	corpus := strings.Join(texts, corpusSeparator)
	span.SetAttributes(attribute.Int("pages", len(texts)), attribute.Int("bytes", len(corpus)))
	return corpus
}
