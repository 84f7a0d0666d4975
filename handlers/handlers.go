// Package handlers binds the OSC routes to the gate and the device executor.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jdginn/larpa/devices"
	"github.com/jdginn/larpa/gate"
	"github.com/jdginn/larpa/logging"
)

const (
	ECHO_ADDRESS           = devices.ECHO_ADDRESS
	SCAN_ADDRESS           = "/scan"
	SCAN_AND_PRINT_ADDRESS = "/scan_and_print"
	PRINT_ADDRESS          = "/print"
)

// Executor is the device side of the handlers. *scanner.Executor satisfies it.
type Executor interface {
	Scan(ctx context.Context) error
	Print(ctx context.Context) error
	ScanAndPrint(ctx context.Context) error
}

// Handlers holds the collaborators shared by every route.
type Handlers struct {
	gate    *gate.Gate
	exec    Executor
	console io.Writer
}

// New returns route handlers that write operator notices to console.
func New(g *gate.Gate, exec Executor, console io.Writer) *Handlers {
	return &Handlers{gate: g, exec: exec, console: console}
}

// Bind registers every device route and the logging control routes on r.
func (h *Handlers) Bind(r *devices.Router) error {
	routes := []struct {
		address string
		handler devices.Handler
	}{
		{ECHO_ADDRESS, h.Echo},
		{SCAN_ADDRESS, h.Scan},
		{SCAN_AND_PRINT_ADDRESS, h.ScanAndPrint},
		{PRINT_ADDRESS, h.Print},
	}
	for _, cat := range logging.Categories {
		routes = append(routes, struct {
			address string
			handler devices.Handler
		}{logging.LevelAddress(cat), logging.HandleOSCSetCategoryLevel})
	}
	for _, route := range routes {
		if err := r.Register(route.address, route.handler); err != nil {
			return err
		}
	}
	return nil
}

// Echo prints the message arguments to the console.
func (h *Handlers) Echo(_ string, args []any) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	fmt.Fprintf(h.console, "> %s\n", strings.Join(parts, " "))
}

// Scan runs a scan unless another device operation is in flight. Arguments are ignored.
func (h *Handlers) Scan(_ string, _ []any) {
	h.guarded("scan", h.exec.Scan)
}

// ScanAndPrint runs a scan followed by a print unless another device operation is in flight.
func (h *Handlers) ScanAndPrint(_ string, _ []any) {
	h.guarded("scan_and_print", h.exec.ScanAndPrint)
}

// Print reprints the last scan unless another device operation is in flight.
func (h *Handlers) Print(_ string, _ []any) {
	h.guarded("print", h.exec.Print)
}

// guarded runs op under the gate. Busy and failed outcomes are reported to the operator and never propagate.
func (h *Handlers) guarded(name string, op func(context.Context) error) {
	log := logging.Get(logging.APP).With("op", name, "id", uuid.NewString())

	err := h.gate.Do(func() error {
		log.Info("Device operation started")
		return op(context.Background())
	})
	switch {
	case errors.Is(err, gate.ErrBusy):
		log.Info("Device busy; trigger dropped")
		fmt.Fprintf(h.console, "%s ignored: device busy\n", name)
	case err != nil:
		log.Error("Device operation failed", "err", err)
		fmt.Fprintf(h.console, "%s failed: %v\n", name, err)
	default:
		log.Info("Device operation finished")
	}
}
