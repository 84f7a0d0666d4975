package devicestesting

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdginn/larpa/devices"
)

// CallbackTracker helps track and verify handler invocations in tests
type CallbackTracker struct {
	mu       sync.Mutex
	calls    int
	lastArgs [][]any
	t        *testing.T
}

// NewCallbackTracker creates a new CallbackTracker for use in tests
func NewCallbackTracker(t *testing.T) *CallbackTracker {
	return &CallbackTracker{
		t:        t,
		lastArgs: make([][]any, 0),
	}
}

// WrapHandler wraps a handler to track its invocations.
// handler may be nil, in which case only the call is recorded.
func WrapHandler(ct *CallbackTracker, handler devices.Handler) devices.Handler {
	return func(address string, args []any) {
		ct.mu.Lock()
		ct.calls++
		ct.lastArgs = append(ct.lastArgs, args)
		ct.mu.Unlock()

		if handler != nil {
			handler(address, args)
		}
	}
}

// Calls returns the number of recorded invocations
func (ct *CallbackTracker) Calls() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.calls
}

// AssertCalled asserts that the handler was called exactly n times
func (ct *CallbackTracker) AssertCalled(expectedCalls int, msg ...any) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	assert.Equal(ct.t, expectedCalls, ct.calls, msg...)
}

// AssertNotCalled asserts that the handler was never called
func (ct *CallbackTracker) AssertNotCalled(msg ...any) {
	ct.AssertCalled(0, msg...)
}

// GetLastArgs returns the arguments from the last invocation
// Returns nil if never called
func (ct *CallbackTracker) GetLastArgs() []any {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if len(ct.lastArgs) == 0 {
		return nil
	}
	return ct.lastArgs[len(ct.lastArgs)-1]
}

// Reset resets the call counter and args history
func (ct *CallbackTracker) Reset() {
	ct.mu.Lock()
	ct.calls = 0
	ct.lastArgs = make([][]any, 0)
	ct.mu.Unlock()
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, used as a fake operator console.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Lines returns the buffered output split into lines, without the trailing empty line.
func (b *SyncBuffer) Lines() []string {
	out := strings.TrimSuffix(b.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// CountLine returns how many lines equal line exactly.
func (b *SyncBuffer) CountLine(line string) int {
	n := 0
	for _, l := range b.Lines() {
		if l == line {
			n++
		}
	}
	return n
}

// Count returns how many times substr occurs in the buffer.
func (b *SyncBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}
