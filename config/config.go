// Package config loads larpa's YAML configuration and watches it for changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jdginn/larpa/devices/scanner"
	"github.com/jdginn/larpa/logging"
)

const (
	DEFAULT_OSC_SERVER_HOST = "0.0.0.0"
	DEFAULT_OSC_SERVER_PORT = 13000
	DEFAULT_OSC_CLIENT_HOST = "127.0.0.1"
	DEFAULT_INSTANCE        = "larpa"
)

var ErrInvalidConfig = errors.New("invalid config")

type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type Advertise struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

type Logging struct {
	// Levels maps a log category to a level name such as "debug" or "warn"
	Levels map[string]string `yaml:"levels"`
}

type Config struct {
	Listen    Endpoint       `yaml:"listen"`
	Client    Endpoint       `yaml:"client"`
	Scanner   scanner.Config `yaml:"scanner"`
	Advertise Advertise      `yaml:"advertise"`
	Logging   Logging        `yaml:"logging"`
}

func Default() Config {
	return Config{
		Listen:    Endpoint{Host: DEFAULT_OSC_SERVER_HOST, Port: DEFAULT_OSC_SERVER_PORT},
		Client:    Endpoint{Host: DEFAULT_OSC_CLIENT_HOST, Port: DEFAULT_OSC_SERVER_PORT},
		Scanner:   scanner.DefaultConfig(),
		Advertise: Advertise{Instance: DEFAULT_INSTANCE},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	for name, ep := range map[string]Endpoint{"listen": c.Listen, "client": c.Client} {
		if ep.Port < 0 || ep.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d out of range", name, ep.Port))
		}
	}
	if c.Client.Host == "" {
		errs = append(errs, errors.New("client.host is empty"))
	}
	if c.Scanner.Device == "" {
		errs = append(errs, errors.New("scanner.device is empty"))
	}
	if c.Scanner.Output == "" {
		errs = append(errs, errors.New("scanner.output is empty"))
	}
	if c.Scanner.ScanCommand == "" || c.Scanner.PrintCommand == "" {
		errs = append(errs, errors.New("scanner commands must be set"))
	}
	for name, lvl := range c.Logging.Levels {
		if _, err := logging.ParseLevel(lvl); err != nil {
			errs = append(errs, fmt.Errorf("logging.levels.%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Watch reloads path whenever it changes and passes each valid result to onChange. Invalid files are logged and
// skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so editors that replace the file by rename are seen.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	log := logging.Get(logging.APP)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(50 * time.Millisecond)
			}

		case <-debounce:
			debounce = nil
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("Ignoring config reload", "path", abs, "err", err)
				continue
			}
			log.Info("Config reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Config watcher error", "err", err)
		}
	}
}
