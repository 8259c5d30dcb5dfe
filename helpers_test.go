package profiler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/docutag/profiler/llm"
	"github.com/docutag/profiler/ratelimit"
)

var errPageMissing = errors.New("page missing")

// fakeFetcher serves pages from memory and counts calls per URL
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	page, ok := f.pages[url]
	if !ok {
		return "", &FetchError{URL: url, Attempts: 1, Err: errPageMissing}
	}
	return page, nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// scriptedCompleter answers relevance prompts by marker and field prompts by instruction
type scriptedCompleter struct {
	calls      atomic.Int64
	relevant   func(prompt string) (string, error)
	field      func(prompt string) (string, error)
	lastPrompt atomic.Value
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	c.calls.Add(1)
	c.lastPrompt.Store(prompt)
	if strings.HasPrefix(prompt, "The following content is from a webpage.") {
		if c.relevant == nil {
			return "No", nil
		}
		return c.relevant(prompt)
	}
	if c.field == nil {
		return "answer", nil
	}
	return c.field(prompt)
}

// testPipeline builds a pipeline with no pauses
func testPipeline(fetcher Fetcher, completer llm.Completer, mutate ...func(*Config)) *Pipeline {
	config := DefaultConfig()
	for _, m := range mutate {
		m(&config)
	}
	return New(config, completer,
		WithFetcher(fetcher),
		WithClassifyPause(ratelimit.None),
		WithFieldLimiter(ratelimit.None),
	)
}

func htmlPage(body string) string {
	return "<!DOCTYPE html><html><head><title>t</title></head><body>" + body + "</body></html>"
}
