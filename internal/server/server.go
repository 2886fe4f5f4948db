// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package server is the command line entry point for user-info-fetcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/stackabletech/opa-operator-sub000/internal/backend"
	"github.com/stackabletech/opa-operator-sub000/internal/config"
	"github.com/stackabletech/opa-operator-sub000/internal/crypto/ptls"
	"github.com/stackabletech/opa-operator-sub000/internal/endpointaddr"
	"github.com/stackabletech/opa-operator-sub000/internal/metrics"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/pversion"
	"github.com/stackabletech/opa-operator-sub000/internal/usercache"
)

const (
	defaultListenPort = 9476
	shutdownGrace     = 30 * time.Second
)

// Options are read from the environment first and then overridden by flags.
type Options struct {
	ConfigPath     string `env:"CONFIG"`
	CredentialsDir string `env:"CREDENTIALS_DIR"`
	ListenAddress  string `env:"LISTEN_ADDRESS" envDefault:"127.0.0.1:9476"`
	LogLevel       string `env:"LOG_LEVEL"`
	LogFormat      string `env:"LOG_FORMAT"`
	MetricsAddress string `env:"METRICS_ADDRESS"`
}

// App is an object that represents the user-info-fetcher application.
type App struct {
	cmd *cobra.Command

	options Options
	envErr  error

	// ready is called with the bound listen address once the server accepts connections.
	ready func(addr net.Addr)
}

// New constructs a new App with command line args, stdout and stderr.
func New(ctx context.Context, args []string, stdout, stderr io.Writer) *App {
	return newApp(ctx, args, stdout, stderr, env.Options{})
}

func newApp(ctx context.Context, args []string, stdout, stderr io.Writer, envOpts env.Options) *App {
	app := &App{}
	app.envErr = env.ParseWithOptions(&app.options, envOpts)
	app.addServerCommand(ctx, args, stdout, stderr)
	return app
}

// Run the server.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// Create the server command and save it into the App.
func (a *App) addServerCommand(ctx context.Context, args []string, stdout, stderr io.Writer) {
	cmd := &cobra.Command{
		Use: "user-info-fetcher",
		Long: "user-info-fetcher resolves a user id or username into the user's\n" +
			"groups and attributes by asking the configured directory service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.envErr != nil {
				return fmt.Errorf("invalid environment: %w", a.envErr)
			}
			return a.runServer(ctx)
		},
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	addCommandlineFlagsToCommand(cmd, a)

	a.cmd = cmd
}

// Define the app's commandline flags.
func addCommandlineFlagsToCommand(cmd *cobra.Command, app *App) {
	flags := cmd.Flags()
	flags.StringVarP(&app.options.ConfigPath, "config", "c", app.options.ConfigPath, "path to the configuration file (env CONFIG)")
	flags.StringVar(&app.options.CredentialsDir, "credentials-dir", app.options.CredentialsDir, "directory holding the backend client credentials (env CREDENTIALS_DIR)")
	flags.StringVar(&app.options.ListenAddress, "listen-address", app.options.ListenAddress, "loopback address to serve user info requests on (env LISTEN_ADDRESS)")
	flags.StringVar(&app.options.LogLevel, "log-level", app.options.LogLevel, "one of info, debug, trace or all, empty means warnings only (env LOG_LEVEL)")
	flags.StringVar(&app.options.LogFormat, "log-format", app.options.LogFormat, "json or text (env LOG_FORMAT)")
	flags.StringVar(&app.options.MetricsAddress, "metrics-address", app.options.MetricsAddress, "loopback address to serve Prometheus metrics on, empty disables metrics (env METRICS_ADDRESS)")
}

func (a *App) runServer(parent context.Context) error {
	opts := a.options

	// a listener that stops serving on its own takes the other one down with it
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	if err := plog.ValidateAndSetLogLevelAndFormatGlobally(ctx, plog.LogSpec{
		Level:  plog.LogLevel(opts.LogLevel),
		Format: plog.LogFormat(opts.LogFormat),
	}); err != nil {
		return err
	}
	ptls.LogProfiles(plog.WithName("tls"))

	if len(opts.ConfigPath) == 0 {
		return errors.New("a configuration file must be provided with --config or CONFIG")
	}
	cfg, err := config.FromPath(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	listenAddr, err := parseLoopback("listen address", opts.ListenAddress)
	if err != nil {
		return err
	}

	m := metrics.New()
	resolved, err := backend.Resolve(cfg.Backend, opts.CredentialsDir)
	if err != nil {
		return err
	}
	cache := usercache.New(
		backend.Instrument(cfg.Backend.Name(), resolved, m),
		cfg.Cache.TTL(),
		usercache.WithMetrics(m),
	)

	shutdown := &sync.WaitGroup{}

	if len(opts.MetricsAddress) > 0 {
		metricsAddr, err := parseLoopback("metrics address", opts.MetricsAddress)
		if err != nil {
			return err
		}
		metricsListener, err := net.Listen("tcp", metricsAddr.Endpoint())
		if err != nil {
			return fmt.Errorf("cannot listen on metrics address %s: %w", metricsAddr.Endpoint(), err)
		}
		defer func() { _ = metricsListener.Close() }()
		startServer(ctx, cancel, shutdown, metricsListener, metricsHandler(m))
		plog.Info("metrics listener started", "address", metricsListener.Addr().String())
	}

	listener, err := net.Listen("tcp", listenAddr.Endpoint())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", listenAddr.Endpoint(), err)
	}
	defer func() { _ = listener.Close() }()
	startServer(ctx, cancel, shutdown, listener, NewHandler(cache))

	plog.Always("user-info-fetcher is ready",
		"address", listener.Addr().String(),
		"backend", cfg.Backend.Name(),
		"cacheTTL", cfg.Cache.TTL().String(),
	)
	if a.ready != nil {
		a.ready(listener.Addr())
	}

	shutdown.Wait()
	if parent.Err() == nil {
		// only a failed listener cancels ctx while parent is still live
		return context.Cause(ctx)
	}
	return nil
}

func parseLoopback(what, address string) (endpointaddr.HostPort, error) {
	addr, err := endpointaddr.ParseListen(address, defaultListenPort)
	if err != nil {
		return endpointaddr.HostPort{}, fmt.Errorf("invalid %s %q: %w", what, address, err)
	}
	if !addr.IsLoopback() {
		return endpointaddr.HostPort{}, fmt.Errorf("invalid %s %q: only loopback addresses are allowed", what, address)
	}
	return addr, nil
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func startServer(ctx context.Context, cancel context.CancelCauseFunc, shutdown *sync.WaitGroup, l net.Listener, handler http.Handler) {
	server := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown.Add(1)
	go func() {
		defer shutdown.Done()

		err := server.Serve(l)
		plog.Debug("server exited", "err", err)
		if !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("serving on %s failed: %w", l.Addr(), err))
		}
	}()

	shutdown.Add(1)
	go func() {
		defer shutdown.Done()

		<-ctx.Done()
		plog.Debug("server context cancelled", "err", ctx.Err())

		// allow in-flight requests up to the grace period to finish
		connectionsCtx, connectionsCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer connectionsCancel()

		if err := server.Shutdown(connectionsCtx); err != nil {
			plog.Debug("server shutdown failed", "err", err)
		}
	}()
}

func signalCtx() context.Context {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()

		s := <-signalCh
		plog.Debug("saw signal", "signal", s)
	}()

	return ctx
}

// Main runs user-info-fetcher until it receives SIGINT or SIGTERM.
func Main() {
	plog.Always("Running user-info-fetcher", "version", pversion.Get(), "arguments", os.Args)

	if err := New(signalCtx(), os.Args[1:], os.Stdout, os.Stderr).Run(); err != nil {
		plog.Fatal(err)
	}
}
