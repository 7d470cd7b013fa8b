package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/api"
	"github.com/roach88/txgate/internal/policy"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// Ready, when set, receives the bound address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP confirmation API",
		Long: `Run the HTTP API in the foreground.

The server sweeps expired confirmations periodically and, when a policy
file is configured, reloads it whenever the file changes. An invalid edit
is logged and the previous policy stays in force.

Example:
  txgate serve --config txgate.yaml
  txgate serve --listen 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return f.Fail("failed to start", err)
	}
	defer rt.Close()

	if rt.cfg.PolicyFile != "" {
		w := policy.NewWatcher(rt.cfg.PolicyFile, rt.eval, slog.Default())
		if err := w.Start(); err != nil {
			return f.Fail("failed to watch policy file", err)
		}
		defer w.Close()
		slog.Info("watching policy file", "path", rt.cfg.PolicyFile)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	go rt.engine.RunSweeper(ctx, rt.cfg.SweepInterval.Std())

	addr := opts.Listen
	if addr == "" {
		addr = rt.cfg.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return f.Fail("failed to listen", err)
	}

	srv := &http.Server{
		Handler:           api.New(rt.engine, api.WithLogger(slog.Default())),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	slog.Info("txgate listening", "addr", ln.Addr().String(), "store", rt.cfg.Store.Driver)
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())
	}
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = f.Error("SERVER_ERROR", err.Error(), nil)
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = f.Error("SERVER_ERROR", "shutdown failed: "+err.Error(), nil)
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
