/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command portsentinel warns when anything tries to reach a port that should
// be idle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/portsentinel/pkg/config"
	"github.com/carverauto/portsentinel/pkg/geoip"
	"github.com/carverauto/portsentinel/pkg/lifecycle"
	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/monitor"
	"github.com/carverauto/portsentinel/pkg/natsutil"
	"github.com/carverauto/portsentinel/pkg/procattr"
	"github.com/carverauto/portsentinel/pkg/snmptrap"
	"github.com/carverauto/portsentinel/pkg/version"
)

const stopTimeout = 10 * time.Second

var (
	errFailedToLoadConfig = errors.New("failed to load config")
	errPortOutOfRange     = errors.New("port out of range")
)

type options struct {
	configPath  string
	showVersion bool
	port        uint
	iface       string
	set         map[string]bool
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{set: make(map[string]bool)}

	fs.StringVar(&opts.configPath, "config", "", "Path to sentinel config file")
	fs.BoolVar(&opts.showVersion, "version", false, "Print the version and exit")
	fs.UintVar(&opts.port, "port", 0, "Port to watch (overrides config)")
	fs.StringVar(&opts.iface, "interface", "", "Interface address to bind (overrides config)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if opts.port > math.MaxUint16 {
		return nil, fmt.Errorf("%w: -port %d exceeds %d", errPortOutOfRange, opts.port, math.MaxUint16)
	}

	return opts, nil
}

func (o *options) apply(cfg *monitor.Config) {
	if o.set["port"] {
		cfg.Port = uint16(o.port)
	}

	if o.set["interface"] {
		cfg.Interface = o.iface
	}
}

// loadConfig reads the file or environment config when one is given; flags
// win over both.
func loadConfig(ctx context.Context, opts *options) (*monitor.Config, error) {
	cfg := &monitor.Config{}
	opts.apply(cfg)

	if opts.configPath != "" || os.Getenv("CONFIG_SOURCE") == "env" {
		if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.configPath, cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
		}

		opts.apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	return cfg, nil
}

// wiring holds the notifiers and enrichers built from the config. Once a
// service is running it owns the notifiers; the enrichers' resources are
// released by cleanup.
type wiring struct {
	notifiers []monitor.Notifier
	enrichers []monitor.Enricher
	cleanups  []func()
}

func (w *wiring) options() []monitor.ServiceOption {
	return []monitor.ServiceOption{
		monitor.WithNotifiers(w.notifiers...),
		monitor.WithEnrichers(w.enrichers...),
	}
}

func (w *wiring) cleanup() {
	for _, fn := range w.cleanups {
		fn()
	}
}

func (w *wiring) closeNotifiers() {
	for _, n := range w.notifiers {
		_ = n.Close()
	}
}

// buildWiring opens every enabled notifier and enricher. On error everything
// opened so far is closed again.
func buildWiring(ctx context.Context, cfg *monitor.Config, log logger.Logger) (w *wiring, err error) {
	w = &wiring{}

	defer func() {
		if err != nil {
			w.closeNotifiers()
			w.cleanup()
			w = nil
		}
	}()

	if cfg.GeoIP != nil && cfg.GeoIP.Enabled {
		geo, err := geoip.Open(cfg.GeoIP, log)
		if err != nil {
			return w, err
		}

		w.enrichers = append(w.enrichers, geo)
		w.cleanups = append(w.cleanups, func() { _ = geo.Close() })
	}

	if cfg.AttributeLocal {
		w.enrichers = append(w.enrichers, procattr.NewResolver(log))
	}

	if cfg.Events != nil && cfg.Events.Enabled {
		publisher, err := natsutil.ConnectWithEventPublisher(ctx,
			cfg.Events.NATS.URL, cfg.Events.NATS.Domain, cfg.Events.StreamName, cfg.Events.Subject, log)
		if err != nil {
			return w, err
		}

		w.notifiers = append(w.notifiers, publisher)
	}

	if cfg.SNMPTrap != nil && cfg.SNMPTrap.Enabled {
		trap, err := snmptrap.New(cfg.SNMPTrap, log)
		if err != nil {
			return w, err
		}

		w.notifiers = append(w.notifiers, trap)
	}

	return w, nil
}

// newService hands the notifiers to a new service, closing them if the
// service cannot be built.
func newService(cfg *monitor.Config, log logger.Logger, w *wiring) (*monitor.Service, error) {
	svc, err := monitor.NewService(cfg, nil, log, w.options()...)
	if err != nil {
		w.closeNotifiers()
		return nil, err
	}

	return svc, nil
}

func run() error {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Println("portsentinel " + version.GetFullVersion())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	sentinelLogger, err := lifecycle.CreateComponentLogger("portsentinel", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	deps, err := buildWiring(ctx, cfg, sentinelLogger)
	if err != nil {
		return err
	}

	defer deps.cleanup()

	svc, err := newService(cfg, sentinelLogger, deps)
	if err != nil {
		return err
	}

	version.Annotate(sentinelLogger.Info()).
		Uint16("port", cfg.Port).
		Str("interface", cfg.Interface).
		Msg("Port sentinel configured")

	startErr := svc.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		sentinelLogger.Error().Err(err).Msg("Error stopping port sentinel")
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		return startErr
	}

	sentinelLogger.Info().Msg("Port sentinel stopped")

	return nil
}
