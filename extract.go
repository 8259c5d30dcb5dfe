package profiler

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/models"
)

// BuildFieldPrompt places the corpus after the field instruction
func BuildFieldPrompt(instruction, corpus string) string {
	return instruction + "\n" + corpus
}

// ExtractFields queries the model once per field, in order, waiting on a limiter created
// for this call before every query. The result holds exactly one entry per field; failed queries hold
// a sentinel value instead of an answer.
func (p *Pipeline) ExtractFields(ctx context.Context, corpus string, queries models.QuerySpec) models.ExtractionResult {
	ctx, span := p.tracer.Start(ctx, "profiler.ExtractFields",
		trace.WithAttributes(attribute.Int("fields", len(queries))))
	defer span.End()

	limiter := p.fieldLimiter()
	result := make(models.ExtractionResult, len(queries))
	for _, q := range queries {
		if err := limiter.Wait(ctx); err != nil {
			p.metrics.Field("failed")
			p.logger.Warn("field query not sent", zap.String("field", q.Field), zap.Error(err))
			result[q.Field] = models.FailedExtraction
			continue
		}
		result[q.Field] = p.extractField(ctx, q, corpus)
	}
	return result
}

func (p *Pipeline) extractField(ctx context.Context, q models.Query, corpus string) string {
	log := p.logger.With(zap.String("field", q.Field))

	completion, err := p.completer.Complete(ctx, BuildFieldPrompt(q.Instruction, corpus), llm.Options{
		MaxTokens:   p.config.ExtractionMaxTokens,
		Temperature: p.config.ExtractionTemperature,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		p.metrics.Field("empty")
		log.Warn("model returned no completion")
		return models.NoDataExtracted
	}
	if err != nil {
		p.metrics.Field("failed")
		log.Warn("field query failed", zap.Error(err))
		return models.FailedExtraction
	}

	answer := strings.TrimSpace(completion)
	if answer == "" {
		p.metrics.Field("empty")
		return models.NoDataExtracted
	}
	p.metrics.Field("success")
	return answer
}
