package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/progress"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
	err error
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type crawlFunc func(ctx context.Context, req capture.CrawlRequest) (capture.CrawlResult, error)

type fakeCrawler struct {
	mu   sync.Mutex
	reqs []capture.CrawlRequest
	fn   crawlFunc
}

func (c *fakeCrawler) Crawl(ctx context.Context, req capture.CrawlRequest) (capture.CrawlResult, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return capture.CrawlResult{Files: []string{"main_page_desktop.png"}}, nil
	}
	return fn(ctx, req)
}

func (c *fakeCrawler) Requests() []capture.CrawlRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capture.CrawlRequest(nil), c.reqs...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) States(id string) []capture.JobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []capture.JobState
	for _, evt := range e.events {
		if evt.JobID == id {
			out = append(out, evt.Record.State)
		}
	}
	return out
}
