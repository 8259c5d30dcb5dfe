package profiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/metrics"
)

func TestVerdicts(t *testing.T) {
	tests := []struct {
		completion string
		contains   bool
		strict     bool
	}{
		{"Yes", true, true},
		{"  Yes, it lists the team.", true, true},
		{"yes", false, true},
		{"No", false, false},
		{"No. Yes would be wrong here.", true, false},
		{"Yesterday's news", true, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.completion, func(t *testing.T) {
			assert.Equal(t, tt.contains, ContainsYes(tt.completion))
			assert.Equal(t, tt.strict, StrictYes(tt.completion))
		})
	}
}

func TestBuildRelevancePrompt(t *testing.T) {
	prompt := BuildRelevancePrompt("PAGE TEXT")
	assert.True(t, strings.HasPrefix(prompt, "The following content is from a webpage."))
	assert.Contains(t, prompt, "Content:\nPAGE TEXT\n")
	assert.True(t, strings.HasSuffix(prompt, "otherwise 'No'."))
}

func TestSelectRelevantCapsSurvivors(t *testing.T) {
	pages := map[string]string{}
	var candidates []string
	for i := 0; i < 12; i++ {
		link := fmt.Sprintf("https://acme.test/about-%d", i)
		pages[link] = htmlPage("<p>about us</p>")
		candidates = append(candidates, link)
	}

	completer := &scriptedCompleter{relevant: func(string) (string, error) { return "Yes", nil }}
	p := testPipeline(newFakeFetcher(pages), completer)

	relevant := p.SelectRelevant(context.Background(), candidates)
	assert.Len(t, relevant, 5)
	for _, link := range relevant {
		assert.Contains(t, candidates, link)
	}
	// Every candidate is classified even once the cap is reached
	assert.EqualValues(t, 12, completer.calls.Load())
}

func TestSelectRelevantDeterministicOrder(t *testing.T) {
	pages := map[string]string{}
	var candidates []string
	for i := 0; i < 8; i++ {
		link := fmt.Sprintf("https://acme.test/team-%d", i)
		pages[link] = htmlPage(fmt.Sprintf("<p>member %d</p>", i))
		candidates = append(candidates, link)
	}

	completer := &scriptedCompleter{relevant: func(string) (string, error) { return "Yes", nil }}
	p := testPipeline(newFakeFetcher(pages), completer, func(c *Config) {
		c.DeterministicOrder = true
	})

	assert.Equal(t, candidates[:5], p.SelectRelevant(context.Background(), candidates))
}

func TestSelectRelevantContainsFailures(t *testing.T) {
	pages := map[string]string{
		"https://acme.test/about":   htmlPage("<p>about GOOD</p>"),
		"https://acme.test/team":    htmlPage("<p>team BROKEN</p>"),
		"https://acme.test/pricing": htmlPage("<p>pricing BAD</p>"),
	}
	candidates := []string{
		"https://acme.test/about",
		"https://acme.test/team",
		"https://acme.test/pricing",
		"https://acme.test/contact", // not served
	}

	completer := &scriptedCompleter{relevant: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "GOOD"):
			return "Yes", nil
		case strings.Contains(prompt, "BROKEN"):
			return "", errors.New("model overloaded")
		default:
			return "No", nil
		}
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := New(DefaultConfig(), completer,
		WithFetcher(newFakeFetcher(pages)),
		WithClassifyPause(noPause{}),
		WithMetrics(m),
	)

	relevant := p.SelectRelevant(context.Background(), candidates)
	assert.Equal(t, []string{"https://acme.test/about"}, relevant)
	assert.EqualValues(t, 3, completer.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierVerdict.WithLabelValues("relevant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierVerdict.WithLabelValues("irrelevant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierVerdict.WithLabelValues("model_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierVerdict.WithLabelValues("fetch_error")))
}

func TestSelectRelevantStrictVerdict(t *testing.T) {
	pages := map[string]string{
		"https://acme.test/about": htmlPage("<p>ABOUT PAGE</p>"),
		"https://acme.test/team":  htmlPage("<p>TEAM PAGE</p>"),
	}
	completer := &scriptedCompleter{relevant: func(prompt string) (string, error) {
		if strings.Contains(prompt, "ABOUT PAGE") {
			return "Yes.", nil
		}
		return "No. Yes would overstate it.", nil
	}}
	p := testPipeline(newFakeFetcher(pages), completer, func(c *Config) {
		c.StrictVerdict = true
		c.DeterministicOrder = true
	})

	relevant := p.SelectRelevant(context.Background(), []string{"https://acme.test/about", "https://acme.test/team"})
	assert.Equal(t, []string{"https://acme.test/about"}, relevant)
}

func TestSelectRelevantBoundsConcurrency(t *testing.T) {
	pages := map[string]string{}
	var candidates []string
	for i := 0; i < 30; i++ {
		link := fmt.Sprintf("https://acme.test/services-%d", i)
		pages[link] = htmlPage("<p>services</p>")
		candidates = append(candidates, link)
	}

	var inFlight, peak atomic.Int64
	completer := llm.CompleterFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "No", nil
	})

	p := testPipeline(newFakeFetcher(pages), completer)
	assert.Empty(t, p.SelectRelevant(context.Background(), candidates))
	assert.LessOrEqual(t, peak.Load(), int64(10))
}

func TestSelectRelevantPausesAfterEveryCandidate(t *testing.T) {
	pages := map[string]string{
		"https://acme.test/about": htmlPage("<p>ABOUT PAGE</p>"),
		"https://acme.test/team":  htmlPage("<p>TEAM PAGE</p>"),
	}
	pause := &countingPause{}
	completer := &scriptedCompleter{relevant: func(prompt string) (string, error) {
		if strings.Contains(prompt, "TEAM PAGE") {
			return "", errors.New("model overloaded")
		}
		return "Yes", nil
	}}

	p := New(DefaultConfig(), completer,
		WithFetcher(newFakeFetcher(pages)),
		WithClassifyPause(pause),
	)
	p.SelectRelevant(context.Background(), []string{
		"https://acme.test/about",
		"https://acme.test/team",
		"https://acme.test/missing",
	})
	assert.EqualValues(t, 3, pause.n.Load())
}

func TestSelectRelevantUsesRelevanceOptions(t *testing.T) {
	pages := map[string]string{"https://acme.test/about": htmlPage("<p>about</p>")}
	var got llm.Options
	completer := llm.CompleterFunc(func(_ context.Context, _ string, opts llm.Options) (string, error) {
		got = opts
		return "Yes", nil
	})
	p := testPipeline(newFakeFetcher(pages), completer)
	require.Len(t, p.SelectRelevant(context.Background(), []string{"https://acme.test/about"}), 1)
	assert.Equal(t, llm.Options{MaxTokens: 50, Temperature: 0.5}, got)
}

func TestSelectRelevantEmpty(t *testing.T) {
	p := testPipeline(newFakeFetcher(nil), &scriptedCompleter{})
	assert.Empty(t, p.SelectRelevant(context.Background(), nil))
}

type noPause struct{}

func (noPause) Wait(context.Context) error { return nil }

type countingPause struct{ n atomic.Int64 }

func (c *countingPause) Wait(context.Context) error {
	c.n.Add(1)
	return nil
}
