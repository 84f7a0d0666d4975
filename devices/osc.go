package devices

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/larpa/logging"
)

var (
	ErrDuplicateRoute = errors.New("osc: address already registered")
	ErrInvalidAddress = errors.New("osc: address must begin with '/'")
)

// Handler receives the address and decoded arguments of one OSC message.
type Handler func(address string, args []any)

// Router is an osc.Dispatcher that routes messages to handlers by exact address match.
//
// Handlers run synchronously on the goroutine that calls Dispatch. Messages for unregistered addresses are dropped.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

// Register binds handler to address. Each address may be bound once.
func (r *Router) Register(address string, handler Handler) error {
	if !strings.HasPrefix(address, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if handler == nil {
		return fmt.Errorf("osc: nil handler for %q", address)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[address]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRoute, address)
	}
	r.handlers[address] = handler
	return nil
}

// Routes returns the registered addresses in sorted order.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make([]string, 0, len(r.handlers))
	for addr := range r.handlers {
		routes = append(routes, addr)
	}
	sort.Strings(routes)
	return routes
}

// DispatchMessage runs the handler for address, if any, and reports whether one ran.
func (r *Router) DispatchMessage(address string, args []any) bool {
	r.mu.RLock()
	handler, ok := r.handlers[address]
	r.mu.RUnlock()

	log := logging.Get(logging.OSC_IN)
	if !ok {
		log.Debug("No handler for OSC address", "address", address)
		return false
	}
	log.Debug("Dispatching OSC message", "address", address, "args", args)
	handler(address, args)
	return true
}

// Dispatch dispatches OSC packets. Implements the osc.Dispatcher interface.
//
// Bundle contents are dispatched immediately and in order; timetags are not honored.
func (r *Router) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	default:
		return

	case *osc.Message:
		r.DispatchMessage(p.Address, p.Arguments)

	case *osc.Bundle:
		for _, message := range p.Messages {
			r.DispatchMessage(message.Address, message.Arguments)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	}
}
