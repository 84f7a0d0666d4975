package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/larpa/devices"
)

// printer is an osc.Dispatcher that prints every message it sees
type printer struct {
	w io.Writer
}

func (p printer) Dispatch(packet osc.Packet) {
	switch pk := packet.(type) {
	case *osc.Message:
		fmt.Fprintf(p.w, "Received OSC message: %s %v\n", pk.Address, pk.Arguments)
	case *osc.Bundle:
		for _, m := range pk.Messages {
			p.Dispatch(m)
		}
		for _, b := range pk.Bundles {
			p.Dispatch(b)
		}
	}
}

func main() {
	port := flag.Int("port", 0, "UDP port to listen for OSC messages")
	flag.Parse()

	if *port == 0 {
		fmt.Println("Usage: listenosc -port <port>")
		os.Exit(1)
	}
	addr := "0.0.0.0:" + strconv.Itoa(*port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	listener := devices.NewListener(addr, printer{w: os.Stdout})
	if err := listener.Listen(); err != nil {
		log.Fatalf("Failed to start OSC server: %v", err)
	}
	fmt.Printf("Listening for OSC messages on %s (UDP)...\n", addr)
	if err := listener.Serve(ctx); err != nil {
		log.Fatalf("OSC server failed: %v", err)
	}
}
