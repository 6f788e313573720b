package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goliatone/go-account"
	"github.com/goliatone/go-account/activitymap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type app struct {
	cfg       account.Config
	db        *bun.DB
	repo      *account.RepositoryManager
	lifecycle *account.Lifecycle
	registry  *prometheus.Registry
	logger    account.Logger
	zap       *zap.Logger
	redis     *redis.Client
	closers   []func() error

	in  io.Reader
	out io.Writer
}

func newApp(ctx context.Context, cfg account.Config, debug bool) (*app, error) {
	zl, err := newZap(debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   account.NewZapLogger(zl),
		zap:      zl,
		in:       os.Stdin,
		out:      os.Stdout,
	}

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newZap(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (a *app) wire(ctx context.Context) error {
	db, err := account.OpenDB(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.registry.MustRegister(collectors.NewGoCollector())
	metrics, err := account.NewMetricsActivitySink(a.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	sinks := account.MultiActivitySink{metrics}

	var notifier account.Notifier
	switch {
	case a.cfg.AMQP.URL != "":
		amqpNotifier, conn, err := account.DialAMQPNotifier(a.cfg.AMQP)
		if err != nil {
			return fmt.Errorf("dial amqp: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		notifier = amqpNotifier

		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open activity channel: %w", err)
		}
		if err := ch.ExchangeDeclare(a.cfg.AMQP.ActivityExchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare activity exchange: %w", err)
		}
		sinks = append(sinks, activitymap.NewSink(ch, a.cfg.AMQP.ActivityExchange))
	case a.cfg.SMTP.Host != "":
		mail, err := account.NewMailNotifier(a.cfg.EmailFrom, account.NewSMTPSender(a.cfg.SMTP))
		if err != nil {
			return fmt.Errorf("init mail templates: %w", err)
		}
		notifier = mail
	default:
		notifier = account.LogNotifier{Logger: a.logger}
	}

	a.repo = account.NewRepositoryManager(db,
		account.WithNotifier(notifier),
		account.WithRepositoryLogger(a.logger),
	)
	if err := a.repo.Validate(); err != nil {
		return err
	}

	a.lifecycle = account.NewLifecycle(a.repo,
		account.WithLifecycleConfig(a.cfg),
		account.WithActivitySink(sinks),
		account.WithLifecycleLogger(a.logger),
	)
	return nil
}

// sessions connects to Redis on first use. Only the session command needs it.
func (a *app) sessions(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := account.NewRedisClient(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close: %v", err)
		}
	}
	a.closers = nil
	_ = a.zap.Sync()
}
