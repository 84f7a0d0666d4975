// Command larpa drives a scanner and printer from OSC messages.
//
// Usage:
//
//	larpa start [-config larpa.yaml] [-host 0.0.0.0] [-port 13000] [-advertise]
//	larpa echo [-config larpa.yaml] [-host 127.0.0.1] [-port 13000] <message>
//	larpa scan | scan_and_print | print [-config larpa.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdginn/larpa/config"
	"github.com/jdginn/larpa/devices"
	"github.com/jdginn/larpa/devices/scanner"
	"github.com/jdginn/larpa/gate"
	"github.com/jdginn/larpa/handlers"
	"github.com/jdginn/larpa/logging"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2

	// proceed is returned by parseFlags when the command should go on running
	proceed = -1
)

// newRunner is replaced in tests.
var newRunner = func() scanner.Runner { return scanner.ExecRunner{} }

type command struct {
	name string
	help string
	run  func(ctx context.Context, args []string, stdout, stderr io.Writer) int
}

func commands() []command {
	return []command{
		{"start", "Starts the OSC server.", runStart},
		{"echo", "Emits an echo OSC call to test the OSC server.", runEcho},
		{"scan", "Runs a scan directly, bypassing the network.", oneShot("scan", (*scanner.Executor).Scan)},
		{"scan_and_print", "Runs a scan and print directly, bypassing the network.", oneShot("scan_and_print", (*scanner.Executor).ScanAndPrint)},
		{"print", "Prints the last scan directly, bypassing the network.", oneShot("print", (*scanner.Executor).Print)},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	for _, c := range commands() {
		if c.name == args[0] {
			return c.run(ctx, args[1:], stdout, stderr)
		}
	}
	if args[0] == "-h" || args[0] == "-help" || args[0] == "help" {
		usage(stdout)
		return exitOK
	}
	fmt.Fprintf(stderr, "larpa: unknown command %q\n", args[0])
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Larpa Scanner x4000")
	fmt.Fprintln(w, "\nUsage: larpa <command> [flags]\n\nAvailable commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.help)
	}
}

// parseFlags parses the shared -config/-host/-port flags and returns the loaded config with overrides applied.
// ep selects which endpoint the host and port flags override; nil omits them.
func parseFlags(name string, args []string, stderr io.Writer, ep func(*config.Config) *config.Endpoint, extra func(*flag.FlagSet)) (config.Config, *flag.FlagSet, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "Path to a YAML config file.")
	var host *string
	var port *int
	if ep != nil {
		def := ep(ptr(config.Default()))
		host = fs.String("host", def.Host, "The host address of the OSC server.")
		port = fs.Int("port", def.Port, "The port of the OSC server.")
	}
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config.Config{}, nil, exitOK
		}
		return config.Config{}, nil, exitUsage
	}

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return config.Config{}, nil, exitFatal
	}
	if ep != nil {
		e := ep(&cfg)
		// Only explicitly set flags override the config, so -port 0 still asks for an ephemeral port.
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "host":
				e.Host = *host
			case "port":
				e.Port = *port
			}
		})
		if e.Port < 0 || e.Port > 65535 {
			fmt.Fprintf(stderr, "larpa: port %d out of range\n", e.Port)
			return config.Config{}, nil, exitUsage
		}
	}
	if err := logging.ApplyLevels(cfg.Logging.Levels); err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return config.Config{}, nil, exitFatal
	}
	return cfg, fs, proceed
}

func ptr[T any](v T) *T { return &v }

func listenEndpoint(c *config.Config) *config.Endpoint { return &c.Listen }
func clientEndpoint(c *config.Config) *config.Endpoint { return &c.Client }

func runStart(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var advertise bool
	cfg, fs, code := parseFlags("start", args, stderr, listenEndpoint, func(fs *flag.FlagSet) {
		fs.BoolVar(&advertise, "advertise", false, "Advertise the OSC server over mDNS.")
	})
	if code != proceed {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "larpa start: unexpected arguments %v\n", fs.Args())
		return exitUsage
	}
	log := logging.Get(logging.APP)

	g := gate.New()
	exec := scanner.New(cfg.Scanner, newRunner(), stdout)
	h := handlers.New(g, exec, stdout)
	router := devices.NewRouter()
	if err := h.Bind(router); err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return exitFatal
	}

	listener := devices.NewListener(cfg.Listen.Addr(), router)
	if err := listener.Listen(); err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return exitFatal
	}
	fmt.Fprintf(stdout, "Serving on %s...\n", listener.LocalAddr())

	if advertise || cfg.Advertise.Enabled {
		port := listener.LocalAddr().(*net.UDPAddr).Port
		shutdown, err := devices.Advertise(cfg.Advertise.Instance, port, router.Routes())
		if err != nil {
			log.Warn("mDNS advertisement unavailable", "err", err)
		} else {
			defer shutdown()
		}
	}

	if path := fs.Lookup("config").Value.String(); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(c config.Config) {
				if err := logging.ApplyLevels(c.Logging.Levels); err != nil {
					log.Warn("Could not apply reloaded log levels", "err", err)
				}
			})
			if err != nil {
				log.Warn("Config watch stopped", "err", err)
			}
		}()
	}

	if err := listener.Serve(ctx); err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return exitFatal
	}
	log.Info("Shut down cleanly")
	return exitOK
}

func runEcho(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, fs, code := parseFlags("echo", args, stderr, clientEndpoint, nil)
	if code != proceed {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "larpa echo: expected exactly one message argument")
		fs.Usage()
		return exitUsage
	}
	client := devices.NewClient(cfg.Client.Host, cfg.Client.Port)
	if err := client.Echo(fs.Arg(0)); err != nil {
		fmt.Fprintf(stderr, "larpa: %v\n", err)
		return exitFatal
	}
	return exitOK
}

// oneShot runs a single device operation with no gate. Device failures are logged and the exit status stays zero.
func oneShot(name string, op func(*scanner.Executor, context.Context) error) func(context.Context, []string, io.Writer, io.Writer) int {
	return func(_ context.Context, args []string, stdout, stderr io.Writer) int {
		cfg, fs, code := parseFlags(name, args, stderr, nil, nil)
		if code != proceed {
			return code
		}
		if fs.NArg() > 0 {
			fmt.Fprintf(stderr, "larpa %s: unexpected arguments %v\n", name, fs.Args())
			return exitUsage
		}
		exec := scanner.New(cfg.Scanner, newRunner(), stdout)
		// Device operations are not interruptible, so the signal context is not passed down.
		if err := op(exec, context.Background()); err != nil {
			logging.Get(logging.APP).Error("Device operation failed", "op", name, "err", err)
			fmt.Fprintf(stdout, "%s failed: %v\n", name, err)
		}
		return exitOK
	}
}
