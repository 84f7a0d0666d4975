package devicestesting

import (
	"context"
	"io"
	"sync"
)

// Call records one FakeRunner invocation.
type Call struct {
	Name string
	Args []string
}

// FakeRunner stands in for scanner.ExecRunner. It records every command and can be scripted to fail or block.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]error

	// Output is written to stdout by every successful call
	Output []byte
	// Block, when non-nil, holds each call until it is closed
	Block chan struct{}
	// Started, when non-nil, receives the command name as each call begins
	Started chan string
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{failures: map[string]error{}}
}

// Fail makes every later call of the named command return err.
func (f *FakeRunner) Fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = err
}

func (f *FakeRunner) Run(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})
	err := f.failures[name]
	f.mu.Unlock()

	if f.Started != nil {
		f.Started <- name
	}
	if f.Block != nil {
		<-f.Block
	}
	if err != nil {
		return err
	}
	if len(f.Output) > 0 {
		_, err = stdout.Write(f.Output)
	}
	return err
}

func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times the named command ran.
func (f *FakeRunner) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
