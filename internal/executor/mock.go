package executor

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation made against a Mock.
type Call struct {
	Method string // "Run" or "Output"
	Name   string
	Args   []string
}

// Line renders the call the way CommandLine does.
func (c Call) Line() string { return CommandLine(c.Name, c.Args) }

type failure struct {
	prefix string
	err    error
}

// Mock is a Runner test double. Commands succeed with empty output unless a
// Handler, a registered failure, or a canned output says otherwise.
type Mock struct {
	// Handler, when set, decides the result of every call.
	Handler func(call Call) ([]byte, error)

	mu       sync.Mutex
	calls    []Call
	failures []failure
	outputs  map[string][]byte
}

func NewMock() *Mock {
	return &Mock{outputs: make(map[string][]byte)}
}

// Fail makes every command whose line starts with prefix return err.
func (m *Mock) Fail(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure{prefix: prefix, err: err})
}

// SetOutput makes the exact command line return out.
func (m *Mock) SetOutput(line string, out []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputs == nil {
		m.outputs = make(map[string][]byte)
	}
	m.outputs[line] = out
}

func (m *Mock) Run(ctx context.Context, name string, args ...string) error {
	_, err := m.invoke(ctx, Call{Method: "Run", Name: name, Args: args})
	return err
}

func (m *Mock) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.invoke(ctx, Call{Method: "Output", Name: name, Args: args})
}

func (m *Mock) invoke(ctx context.Context, call Call) ([]byte, error) {
	call.Args = append([]string(nil), call.Args...)

	m.mu.Lock()
	m.calls = append(m.calls, call)
	handler := m.Handler
	line := call.Line()
	var failErr error
	for _, f := range m.failures {
		if strings.HasPrefix(line, f.prefix) {
			failErr = f.err
			break
		}
	}
	out := m.outputs[line]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler != nil {
		return handler(call)
	}
	if failErr != nil {
		return nil, failErr
	}
	return out, nil
}

// Calls returns a copy of every recorded call.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Lines returns the command line of every recorded call.
func (m *Mock) Lines() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Line()
	}
	return out
}

func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failures = nil
	m.outputs = make(map[string][]byte)
}

var _ Runner = (*Mock)(nil)
