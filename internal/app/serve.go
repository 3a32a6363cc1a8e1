package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/swapguard/internal/api"
	"github.com/ggonzalez94/swapguard/internal/approval"
	"github.com/ggonzalez94/swapguard/internal/chainio"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/gate"
	"github.com/ggonzalez94/swapguard/internal/handoff"
	"github.com/ggonzalez94/swapguard/internal/injection"
	"github.com/ggonzalez94/swapguard/internal/metrics"
	"github.com/ggonzalez94/swapguard/internal/ratelimit"
	"github.com/ggonzalez94/swapguard/internal/telemetry"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

const sweepInterval = time.Minute

// gate returns the gate for one-shot commands, built on first use.
func (s *runtimeState) gate() *gate.Gate {
	if s.g == nil {
		s.g = s.buildGate()
	}
	return s.g
}

func (s *runtimeState) buildGate(extra ...gate.Option) *gate.Gate {
	settings := s.settings
	audit := injection.MultiSink{injection.NewLogSink(s.logger)}
	if s.store != nil {
		audit = append(audit, s.store)
	}
	opts := []gate.Option{
		gate.WithRegistry(s.registry),
		gate.WithDetector(injection.NewDetector(injection.WithMaxLength(settings.MaxInputLength))),
		gate.WithLimiter(ratelimit.New(settings.RateLimit, settings.RateWindow)),
		gate.WithLedger(approval.NewLedger(approval.NewMachine(approval.WithTTL(settings.ApprovalTTL)))),
		gate.WithBalanceChecker(chainio.NewBalanceReader(s.registry, chainio.WithOwner(settings.WalletAddress))),
		gate.WithAuditSink(audit),
		gate.WithLogger(s.logger),
		gate.WithRetryConfig(settings.Retry),
		gate.WithToolAllowlist(settings.EnableTools),
		gate.WithMaxPlanSteps(settings.MaxPlanSteps),
	}
	if s.store != nil {
		opts = append(opts, gate.WithPlanRecorder(s.store))
	}
	if settings.BroadcasterURL != "" {
		opts = append(opts, gate.WithBroadcaster(handoff.NewHTTPBroadcaster(settings.BroadcasterURL, settings.Timeout, s.registry)))
	}
	return gate.New(append(opts, extra...)...)
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	var bal balanceArgs
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Validate a checkBalance call and read the balance over RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout*time.Duration(s.settings.Retry.MaxRetries+1))
			defer cancel()
			p, err := s.gate().Propose(ctx, validate.ToolCall{Tool: string(validate.ToolCheckBalance), Params: bal.params()})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), p, p.Warnings)
		},
	}
	cmd.Flags().StringVar(&bal.token, "token", "", "Token symbol")
	cmd.Flags().StringVar(&bal.chain, "chain", "", "Chain name, alias, id or CAIP-2")
	cmd.Flags().StringVar(&bal.address, "address", "", "Account address (default: configured wallet)")
	return cmd
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var addr string
	var origins []string
	var trustClientID bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gate API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = s.settings.ServerAddr
			}
			if cmd.Flags().Changed("trust-client-id") {
				s.settings.TrustClientID = trustClientID
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.serve(ctx, addr, origins)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8480)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "Allowed CORS origins (default: any)")
	cmd.Flags().BoolVar(&trustClientID, "trust-client-id", false, "Key rate limits on the X-Client-ID header instead of the remote address")
	return cmd
}

func (s *runtimeState) serve(ctx context.Context, addr string, origins []string) error {
	shutdownTracing, err := telemetry.Init(ctx, s.settings.Telemetry, s.logger)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "init tracing", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownDeadline)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			s.logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "register metrics", err)
	}

	g := s.buildGate(gate.WithMetrics(recorder))
	handler := api.NewRouter(g, api.Options{
		Logger:         s.logger,
		Metrics:        metrics.Handler(reg),
		AllowedOrigins: origins,
		TrustClientID:  s.settings.TrustClientID,
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "listen on "+addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go s.sweepLoop(ctx, g)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("gate api listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return clierr.Wrap(clierr.CodeInternal, "serve http", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownDeadline)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "shutdown http server", err)
	}
	return nil
}

func (s *runtimeState) sweepLoop(ctx context.Context, g *gate.Gate) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
