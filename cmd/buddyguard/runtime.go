package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
	"github.com/ahwlsqja/buddyguard-ops/internal/journal"
	"github.com/ahwlsqja/buddyguard-ops/internal/permit"
	"github.com/ahwlsqja/buddyguard-ops/pkg/nonce"
	pkgredis "github.com/ahwlsqja/buddyguard-ops/pkg/redis"
)

// runtime is everything one signing command needs: one connection, one
// signer, one invoker.
type runtime struct {
	command    string
	logger     *zap.Logger
	invoker    *invoker.Invoker
	authorizer *permit.Authorizer
	metrics    *metrics.Registry
	push       config.MetricsConfig
	closers    []io.Closer
}

// connect builds the runtime for role. The key and a file journal are
// checked before any network call.
func connect(ctx context.Context, command string, cfg *config.Config, role config.Role, logger *zap.Logger) (*runtime, error) {
	key, err := cfg.KeyFor(role)
	if err != nil {
		return nil, err
	}
	signer, err := chain.NewSigner(key)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		command: command,
		logger:  logger.With(zap.String("role", string(role)), zap.String("from", signer.Address().Hex())),
		metrics: metrics.NewJob(),
		push:    cfg.Metrics,
	}

	store, err := journal.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, store)

	client, err := chain.Dial(ctx, cfg.Chain)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closerFunc(func() error { client.Close(); return nil }))

	session, err := chain.NewSession(ctx, client, signer)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.invoker = invoker.New(session, rt.logger, invoker.Options{
		PollInterval: cfg.Chain.PollingInterval,
		Timeout:      cfg.Chain.TxTimeout,
		GasLimit:     cfg.Chain.GasLimit,
		Journal:      store,
		Metrics:      rt.metrics,
	})

	opts := permit.Options{DefaultVersion: cfg.Permit.DefaultVersion, Metrics: rt.metrics}
	if cfg.Permit.ReserveNonces {
		rdb := pkgredis.New(cfg.Redis.Client())
		rt.closers = append(rt.closers, rdb)
		opts.Reservations = nonce.NewRedisStore(rdb, cfg.Permit.ReservationTTL, rt.logger)
	}
	rt.authorizer = permit.NewAuthorizer(rt.invoker, rt.logger, opts)

	rt.logger.Debug("session ready",
		zap.String("chain_id", session.ChainID.String()),
		zap.String("rpc", cfg.Chain.RPCURL),
	)
	return rt, nil
}

// Close pushes the command's metrics when a Pushgateway is configured, then
// releases connections in reverse order of creation.
func (r *runtime) Close() {
	if r.push.PushgatewayURL != "" {
		err := r.metrics.Push(r.push.PushgatewayURL, r.push.Job, map[string]string{"command": r.command})
		if err != nil {
			r.logger.Warn("failed to push metrics",
				zap.String("pushgateway", r.push.PushgatewayURL),
				zap.Error(err),
			)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
