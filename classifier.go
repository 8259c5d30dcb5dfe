package profiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/profiler/llm"
)

const relevancePrompt = `The following content is from a webpage. Determine if it contains any information about the company's contact details, team members, leadership, founders, services, pricing, or support.

Content:
%s

Answer with 'Yes' if the content contains any relevant company information, otherwise 'No'.`

// BuildRelevancePrompt embeds page text in the relevance question
func BuildRelevancePrompt(text string) string {
	return fmt.Sprintf(relevancePrompt, text)
}

// ContainsYes treats any completion containing "Yes" as a relevant verdict
func ContainsYes(completion string) bool {
	return strings.Contains(strings.TrimSpace(completion), "Yes")
}

// StrictYes requires the first word of the completion to be "yes", ignoring case and punctuation
func StrictYes(completion string) bool {
	fields := strings.Fields(completion)
	if len(fields) == 0 {
		return false
	}
	word := strings.TrimFunc(fields[0], func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	})
	return strings.EqualFold(word, "yes")
}

type survivor struct {
	index int
	link  string
}

// SelectRelevant fetches and classifies candidates on a bounded pool and returns at most
// RelevantCap links judged relevant. Failures on one link never affect another.
func (p *Pipeline) SelectRelevant(ctx context.Context, candidates []string) []string {
	ctx, span := p.tracer.Start(ctx, "profiler.SelectRelevant",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	var (
		mu        sync.Mutex
		survivors []survivor
	)

	g := new(errgroup.Group)
	g.SetLimit(p.config.Workers)

	for i, link := range candidates {
		g.Go(func() error {
			if !p.isRelevant(ctx, link) {
				return nil
			}
			mu.Lock()
			survivors = append(survivors, survivor{index: i, link: link})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if p.config.DeterministicOrder {
		sort.Slice(survivors, func(a, b int) bool {
			return survivors[a].index < survivors[b].index
		})
	}

	if len(survivors) > p.config.RelevantCap {
		survivors = survivors[:p.config.RelevantCap]
	}

	relevant := make([]string, 0, len(survivors))
	for _, s := range survivors {
		relevant = append(relevant, s.link)
	}
	span.SetAttributes(attribute.Int("relevant", len(relevant)))
	return relevant
}

// isRelevant fetches one candidate and asks the model about it. Any failure counts as
// irrelevant. The pause follows every candidate, including failed fetches.
func (p *Pipeline) isRelevant(ctx context.Context, link string) bool {
	log := p.logger.With(zap.String("url", link))

	defer func() {
		if err := p.classifyPause.Wait(ctx); err != nil {
			log.Debug("classifier pause interrupted", zap.Error(err))
		}
	}()

	page, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		p.metrics.Verdict("fetch_error")
		log.Warn("skipping candidate, fetch failed", zap.Error(err))
		return false
	}

	completion, err := p.completer.Complete(ctx, BuildRelevancePrompt(ExtractText(page)), llm.Options{
		MaxTokens:   p.config.RelevanceMaxTokens,
		Temperature: p.config.RelevanceTemperature,
	})
	if err != nil {
		p.metrics.Verdict("model_error")
		log.Warn("relevance query failed", zap.Error(err))
		return false
	}

	if p.verdict(completion) {
		p.metrics.Verdict("relevant")
		log.Debug("candidate relevant")
		return true
	}
	p.metrics.Verdict("irrelevant")
	log.Debug("candidate irrelevant", zap.String("completion", completion))
	return false
}
