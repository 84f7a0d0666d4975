// Package scanner drives the scanner and printer through their command-line tools.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/jdginn/larpa/logging"
)

const (
	DEFAULT_DEVICE        = "pixma:04A918AA_2067EE"
	DEFAULT_OUTPUT        = "out.jpeg"
	DEFAULT_FORMAT        = "jpeg"
	DEFAULT_CALIBRATE     = "Always"
	DEFAULT_SCAN_COMMAND  = "scanimage"
	DEFAULT_PRINT_COMMAND = "lp"
)

// Config names the device and the commands used to reach it.
type Config struct {
	Device       string `yaml:"device"`
	Output       string `yaml:"output"`
	Format       string `yaml:"format"`
	Calibrate    string `yaml:"calibrate"`
	ScanCommand  string `yaml:"scan_command"`
	PrintCommand string `yaml:"print_command"`
}

func DefaultConfig() Config {
	return Config{
		Device:       DEFAULT_DEVICE,
		Output:       DEFAULT_OUTPUT,
		Format:       DEFAULT_FORMAT,
		Calibrate:    DEFAULT_CALIBRATE,
		ScanCommand:  DEFAULT_SCAN_COMMAND,
		PrintCommand: DEFAULT_PRINT_COMMAND,
	}
}

// Runner runs one external command to completion, streaming its stdout to stdout.
type Runner interface {
	Run(ctx context.Context, stdout io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. No shell is involved.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Executor performs scan and print operations. It holds no state between calls and does no locking of its own;
// callers serialize access.
type Executor struct {
	cfg     Config
	runner  Runner
	console io.Writer
}

// New returns an Executor. Progress lines for the operator go to console, which may be nil.
func New(cfg Config, runner Runner, console io.Writer) *Executor {
	if console == nil {
		console = io.Discard
	}
	return &Executor{cfg: cfg, runner: runner, console: console}
}

func (e *Executor) Config() Config {
	return e.cfg
}

// ScanArgs returns the argument list passed to the scan command.
func (e *Executor) ScanArgs() []string {
	return []string{
		"--device-name=" + e.cfg.Device,
		"--format=" + e.cfg.Format,
		"--calibrate=" + e.cfg.Calibrate,
	}
}

// Scan captures an image into the output file. The file is replaced atomically and only when the scan succeeds.
func (e *Executor) Scan(ctx context.Context) error {
	log := logging.Get(logging.DEVICE)
	fmt.Fprintln(e.console, "Scanning...")

	pf, err := renameio.NewPendingFile(e.cfg.Output, renameio.WithPermissions(0o644))
	if err != nil {
		return &DeviceError{Op: OpScan, Target: e.cfg.Output, ExitCode: -1, Err: err}
	}
	defer pf.Cleanup()

	args := e.ScanArgs()
	log.Debug("Running scan command", "command", e.cfg.ScanCommand, "args", args)
	if err := e.runner.Run(ctx, pf, e.cfg.ScanCommand, args...); err != nil {
		log.Error("Scan command failed", "device", e.cfg.Device, "err", err)
		return &DeviceError{Op: OpScan, Target: e.cfg.Device, ExitCode: exitCode(err), Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &DeviceError{Op: OpScan, Target: e.cfg.Output, ExitCode: -1, Err: err}
	}
	log.Info("Scan complete", "device", e.cfg.Device, "output", e.cfg.Output)
	return nil
}

// Print submits the output file to the default print queue.
func (e *Executor) Print(ctx context.Context) error {
	log := logging.Get(logging.DEVICE)
	fmt.Fprintln(e.console, "Printing...")

	log.Debug("Running print command", "command", e.cfg.PrintCommand, "file", e.cfg.Output)
	if err := e.runner.Run(ctx, io.Discard, e.cfg.PrintCommand, e.cfg.Output); err != nil {
		log.Error("Print command failed", "file", e.cfg.Output, "err", err)
		return &DeviceError{Op: OpPrint, Target: e.cfg.Output, ExitCode: exitCode(err), Err: err}
	}
	log.Info("Print submitted", "file", e.cfg.Output)
	return nil
}

// ScanAndPrint scans, then prints. A failed scan skips the print so a stale or missing file is never printed.
func (e *Executor) ScanAndPrint(ctx context.Context) error {
	if err := e.Scan(ctx); err != nil {
		logging.Get(logging.DEVICE).Warn("Skipping print after failed scan")
		return err
	}
	return e.Print(ctx)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
