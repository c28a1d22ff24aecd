package agent

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"repairbot/internal/llm"
	"repairbot/internal/pipeline"
	"repairbot/internal/turn"

	"google.golang.org/genai"
)

var errRateLimited = genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota exceeded"}

// fakeDirectory answers from fixed tables and records every call.
type fakeDirectory struct {
	mu       sync.Mutex
	devices  map[string]string
	guides   map[string]string
	details  map[string]string
	failWith map[string]error // keyed by "search", "list", "guide"
	calls    []string
}

func (f *fakeDirectory) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDirectory) SearchDevice(_ context.Context, q string) (string, error) {
	f.record("search:" + q)
	if err := f.failWith["search"]; err != nil {
		return "", err
	}
	if out, ok := f.devices[q]; ok {
		return out, nil
	}
	return "No devices found. Try a different search term.", nil
}

func (f *fakeDirectory) ListGuides(_ context.Context, title string) (string, error) {
	f.record("list:" + title)
	if err := f.failWith["list"]; err != nil {
		return "", err
	}
	if out, ok := f.guides[title]; ok {
		return out, nil
	}
	return "Status: Not Found - No guides available for this device", nil
}

func (f *fakeDirectory) GetGuide(_ context.Context, id string) (string, error) {
	f.record("guide:" + id)
	if err := f.failWith["guide"]; err != nil {
		return "", err
	}
	if out, ok := f.details[id]; ok {
		return out, nil
	}
	return "Status: Not Found - Guide does not exist", nil
}

type fakeWeb struct {
	mu     sync.Mutex
	result string
	err    error
	calls  []string
}

func (f *fakeWeb) Search(_ context.Context, q string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	return f.result, f.err
}

// attempt scripts one StreamGenerate call: chunks, then err (if any).
type attempt struct {
	chunks []string
	err    error
}

type fakeModel struct {
	mu       sync.Mutex
	attempts []attempt
	prompts  []string
}

func (f *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	for chunk, err := range f.StreamGenerate(ctx, prompt) {
		if err != nil {
			return "", err
		}
		out += chunk
	}
	return out, nil
}

func (f *fakeModel) StreamGenerate(_ context.Context, prompt string) iter.Seq2[string, error] {
	f.mu.Lock()
	n := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	var a attempt
	if n < len(f.attempts) {
		a = f.attempts[n]
	} else if len(f.attempts) > 0 {
		a = f.attempts[len(f.attempts)-1]
	}
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, c := range a.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if a.err != nil {
			yield("", a.err)
		}
	}
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeToolModel replays scripted responses and records requests.
type fakeToolModel struct {
	mu        sync.Mutex
	responses []*llm.ConverseResponse
	errs      []error
	requests  []llm.ConverseRequest
}

func (f *fakeToolModel) Converse(_ context.Context, req llm.ConverseRequest) (*llm.ConverseResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	if n < len(f.responses) {
		return f.responses[n], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type usageCall struct {
	owner  string
	tokens int
}

type fakeRecorder struct {
	mu    sync.Mutex
	err   error
	calls []usageCall
}

func (f *fakeRecorder) RecordUsage(_ context.Context, owner string, tokens int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, usageCall{owner, tokens})
	return f.err
}

type persisted struct {
	owner, thread string
	role          turn.Role
	content       string
}

type fakePersister struct {
	mu    sync.Mutex
	err   error
	saved []persisted
}

func (f *fakePersister) AppendTurn(_ context.Context, owner, thread string, role turn.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, persisted{owner, thread, role, content})
	return f.err
}

// eventLog collects pipeline events.
type eventLog struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (l *eventLog) sink(ev pipeline.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t pipeline.EventType) []pipeline.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

var errBoom = errors.New("boom")
