package ingest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"regwatch/internal/domain/entity"
)

// stubFetcher serves scripted responses per call.
type stubFetcher struct {
	mu        sync.Mutex
	responses []stubResponse
	calls     int
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
}

type stubResponse struct {
	body string
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, _ *entity.FeedSource) (*FetchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if len(f.responses) == 0 {
		return &FetchResult{Body: []byte(""), StatusCode: 200}, nil
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &FetchResult{Body: []byte(r.body), StatusCode: 200}, nil
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// lineParser reads "title|url|summary" lines and ignores lines starting with '#'.
type lineParser struct {
	calls atomic.Int32
	err   error
}

func (p *lineParser) Parse(_ context.Context, _ *entity.FeedSource, body []byte) ([]FeedEntry, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	var entries []FeedEntry
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		e := FeedEntry{Title: parts[0]}
		if len(parts) > 1 {
			e.URL = parts[1]
		}
		if len(parts) > 2 {
			e.Summary = parts[2]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type stubProcessor struct {
	mu    sync.Mutex
	err   error
	items []string
}

func (p *stubProcessor) Process(_ context.Context, item *entity.DiscoveredItem) (ProcessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item.ID)
	if p.err != nil {
		return ProcessResult{}, p.err
	}
	return ProcessResult{Success: true, ExtractedCount: 2}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.RegulatoryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev entity.RegulatoryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []entity.RegulatoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.RegulatoryEvent(nil), p.events...)
}

func (p *recordingPublisher) Count(kind entity.EventKind) int {
	n := 0
	for _, ev := range p.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func noSleep(context.Context, time.Duration) error { return nil }
