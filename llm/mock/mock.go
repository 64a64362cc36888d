// Package mock provides a scripted llm.Completer. It is deterministic and never calls a network.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"nutritionagent/llm"
)

type Completer struct {
	mu        sync.Mutex
	responses map[string][]string
	err       error
	requests  []llm.Request
}

// NewCompleter returns a completer that answers requests by name. Queued responses are
// consumed in order and the last one repeats.
func NewCompleter(responses map[string][]string) *Completer {
	return &Completer{responses: responses}
}

func NewCompleterWithError(err error) *Completer {
	return &Completer{err: err}
}

func (c *Completer) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Info("LLM_CLIENT: Invoked", "backend", "mock", "request", req.Name)
	c.requests = append(c.requests, req)

	if c.err != nil {
		return nil, c.err
	}

	queue, ok := c.responses[req.Name]
	if !ok || len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %q", req.Name)
	}

	out := queue[0]
	if len(queue) > 1 {
		c.responses[req.Name] = queue[1:]
	}
	return llm.ExtractJSON(out)
}

// Requests returns a copy of every request received so far.
func (c *Completer) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}
