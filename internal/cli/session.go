package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/streampay/internal/config"
	"github.com/roach88/streampay/internal/dispatch"
	"github.com/roach88/streampay/internal/engine"
	"github.com/roach88/streampay/internal/mirror"
	"github.com/roach88/streampay/internal/notify"
	"github.com/roach88/streampay/internal/store"
)

// session is everything one command invocation works with.
type session struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	mirror     *mirror.Mirror // nil without a mirror path
	out        *OutputFormatter
	delivered  chan error // Run's result
}

// resolveConfig layers config file, environment and flags.
func (o *RootOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: o.Config, EnvFile: o.EnvFile})
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.DB
	}
	if flags.Changed("mirror") {
		cfg.MirrorPath = o.Mirror
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// open builds the ledger stack for cmd and starts delivering committed
// events to the notifier and, when configured, the mirror. close waits for
// delivery to finish.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := o.resolveConfig(cmd)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))

	operators, err := cfg.OperatorAddresses()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "path", cfg.DBPath)

	d := dispatch.New([]dispatch.Sink{notify.Sink{N: notify.NewLogNotifier(logger)}}, dispatch.WithLogger(logger))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPublisher(d),
		engine.WithFeeBPS(cfg.FeeBPS),
		engine.WithMaxMessageLen(cfg.MaxMessageLen),
		engine.WithOperators(operators...),
	}
	if o.Clock != nil {
		opts = append(opts, engine.WithClock(o.Clock))
	}
	if o.Nonces != nil {
		opts = append(opts, engine.WithNonceSource(o.Nonces))
	}
	eng := engine.New(st, opts...)

	s := &session{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		engine:     eng,
		dispatcher: d,
		out:        o.formatter(cmd),
	}
	if cfg.MirrorPath != "" {
		m, err := mirror.Open(cfg.MirrorPath, eng, logger)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open mirror", err)
		}
		s.mirror = m
		d.Add(m)
	}

	s.delivered = make(chan error, 1)
	go func() { s.delivered <- d.Run(ctx) }()
	return s, nil
}

// close stops the dispatcher once its queue is delivered and releases both
// databases.
func (s *session) close(ctx context.Context) error {
	s.dispatcher.Stop()
	if err := <-s.delivered; err != nil {
		// Cancelled mid-delivery: hand the rest over before the mirror closes.
		n := s.dispatcher.Drain(context.WithoutCancel(ctx))
		s.logger.Warn("event delivery interrupted", "drained", n, "error", err)
	}

	var errs []error

	if s.mirror != nil {
		errs = append(errs, s.mirror.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// withSession runs fn against an open session and reports its outcome.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) (any, error)) error {
	out := o.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx, cmd)
	if err != nil {
		return out.Fail(err)
	}

	data, err := fn(ctx, s)
	if cerr := s.close(ctx); cerr != nil && err == nil {
		err = fmt.Errorf("close: %w", cerr)
	}
	if err != nil {
		return out.Fail(err)
	}
	return out.Success(data)
}
