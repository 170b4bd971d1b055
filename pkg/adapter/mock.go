package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockReply scripts one Complete outcome.
type MockReply struct {
	Content string
	Err     error
}

// MockCall records one Complete invocation.
type MockCall struct {
	Model   string
	Prompt  string
	Request Request
}

// MockAdapter returns deterministic responses for local runs and tests.
// Scripted replies are consumed in order; when the script is empty,
// responses are matched by prompt substring, then the default applies.
type MockAdapter struct {
	mu              sync.Mutex
	script          []MockReply
	responses       map[string]string
	defaultResponse string
	calls           []MockCall
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with substring-keyed responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Script appends replies consumed in FIFO order by subsequent calls.
func (a *MockAdapter) Script(replies ...MockReply) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, replies...)
	return a
}

// Respond registers a response returned when the prompt contains key.
func (a *MockAdapter) Respond(key, content string) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[key] = content
	return a
}

// Calls returns a copy of the recorded invocations.
func (a *MockAdapter) Calls() []MockCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]MockCall, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (a *MockAdapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Complete returns the next scripted or matched response.
func (a *MockAdapter) Complete(_ context.Context, model string, req Request) (*Response, error) {
	if model == "" {
		model = "mock-1"
	}

	prompt := lastUserContent(req.Messages)

	a.mu.Lock()
	a.calls = append(a.calls, MockCall{Model: model, Prompt: prompt, Request: req})

	if len(a.script) > 0 {
		reply := a.script[0]
		a.script = a.script[1:]
		a.mu.Unlock()
		if reply.Err != nil {
			return nil, reply.Err
		}
		return mockResponse(reply.Content), nil
	}

	for key, content := range a.responses {
		if strings.Contains(prompt, key) {
			a.mu.Unlock()
			return mockResponse(content), nil
		}
	}
	defaultResponse := a.defaultResponse
	a.mu.Unlock()

	return mockResponse(fmt.Sprintf("%s\n%s", defaultResponse, prompt)), nil
}

func mockResponse(content string) *Response {
	tokens := len(content) / 4
	return &Response{
		Content: content,
		Usage:   Usage{CompletionTokens: tokens, TotalTokens: tokens},
	}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" || messages[i].Role == "" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
