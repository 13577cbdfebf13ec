package providers

import (
	"context"
	"errors"
	"sync"

	"github.com/invopop/jsonschema"
)

// Call records one Submit received by a MockBackend.
type Call struct {
	Model         string
	Conversations []Conversation
	Schema        *jsonschema.Schema
	Temperature   float64
}

// ResponderFunc produces the mock output for one conversation of a call.
type ResponderFunc func(call Call, index int, conv Conversation) (string, error)

// MockBackend implements Backend for testing purposes. Responses come from
// Responder when set, otherwise from the preset queue.
type MockBackend struct {
	mu            sync.Mutex
	Responder     ResponderFunc
	responses     []string
	currentIndex  int
	loopResponses bool
	calls         []Call
}

// NewMockBackend creates a mock backend answering with respond.
func NewMockBackend(respond ResponderFunc) *MockBackend {
	return &MockBackend{Responder: respond}
}

func (m *MockBackend) Name() string { return "mock" }

// SetResponses configures a list of responses to be returned in sequence
func (m *MockBackend) SetResponses(responses []string, loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.currentIndex = 0
	m.loopResponses = loop
}

func (m *MockBackend) nextResponse() (string, error) {
	if len(m.responses) == 0 {
		return "", errors.New("mock backend has no responses")
	}
	if m.currentIndex >= len(m.responses) {
		if !m.loopResponses {
			return "", errors.New("mock responses exhausted")
		}
		m.currentIndex = 0
	}
	r := m.responses[m.currentIndex]
	m.currentIndex++
	return r, nil
}

func (m *MockBackend) Submit(_ context.Context, model string, convs []Conversation, schema *jsonschema.Schema, temperature float64) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]Conversation, len(convs))
	for i, c := range convs {
		copied[i] = c.Clone()
	}
	call := Call{Model: model, Conversations: copied, Schema: schema, Temperature: temperature}
	m.calls = append(m.calls, call)

	results := make([]Result, len(convs))
	for i, conv := range copied {
		var text string
		var err error
		if m.Responder != nil {
			text, err = m.Responder(call, i, conv)
		} else {
			text, err = m.nextResponse()
		}
		results[i] = Result{Text: text, Err: err}
	}
	return results
}

// Calls returns every Submit received so far.
func (m *MockBackend) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the calls made against model.
func (m *MockBackend) CallsFor(model string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

var _ Backend = (*MockBackend)(nil)
