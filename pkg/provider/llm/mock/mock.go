// Package mock provides a scripted [llm.Provider] for tests.
//
// By default every call answers with CompleteResponse and CompleteErr. Tests
// that need a different answer per turn queue them in Script; queued replies
// are consumed in order before the defaults apply again.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hi!"}}
//	p.Enqueue(mock.Reply{Err: errors.New("rate limited")})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/talkloop/pkg/provider/llm"
)

// Reply is one scripted answer.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a scripted [llm.Provider]. Configure the exported fields before
// the first call.
type Provider struct {
	// CompleteResponse is returned when the script is empty.
	CompleteResponse *llm.CompletionResponse
	// CompleteErr is returned when the script is empty.
	CompleteErr error

	mu       sync.Mutex
	script   []Reply
	requests []llm.CompletionRequest
}

// Enqueue appends replies to the script.
func (p *Provider) Enqueue(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, replies...)
}

// Complete records a copy of req and returns the next scripted reply, or the
// defaults. It honours ctx cancellation like a real backend.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.script) > 0 {
		r := p.script[0]
		p.script = p.script[1:]
		return r.Response, r.Err
	}
	return p.CompleteResponse, p.CompleteErr
}

// CallCount returns how many times Complete was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns every request seen so far, oldest first.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

// LastRequest returns the most recent request and whether there was one.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.requests[len(p.requests)-1], true
}

// Reset forgets recorded requests and any unconsumed script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = nil
	p.script = nil
}

var _ llm.Provider = (*Provider)(nil)
