package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

type mockDoer struct {
	mu     sync.Mutex
	doFunc func(req *http.Request) (*http.Response, error)
	reqs   []*http.Request
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.doFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// fakeSource is a scripted Source. Each call consumes one step; the last step repeats.
type fakeSource struct {
	mu        sync.Mutex
	name      string
	authority Authority
	steps     []fakeStep
	calls     int
}

type fakeStep struct {
	matches []Match
	err     error
}

func (f *fakeSource) Name() string         { return f.name }
func (f *fakeSource) Authority() Authority { return f.authority }

func (f *fakeSource) Query(ctx context.Context, query string) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i].matches, f.steps[i].err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
