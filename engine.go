// Package examsession is an embeddable engine for a single timed exam
// attempt: countdown enforcement, autosaved drafts, integrity monitoring,
// and an exactly-once submission protocol. Consumers construct an Engine,
// open a session per attempt, and feed it focus/visibility signals from
// their environment.
package examsession

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/config"
	"github.com/proctorly/examsession/draft"
	"github.com/proctorly/examsession/identity"
	"github.com/proctorly/examsession/integrity"
	"github.com/proctorly/examsession/logger"
	"github.com/proctorly/examsession/provider"
	"github.com/proctorly/examsession/session"
	"github.com/proctorly/examsession/store"
	"github.com/proctorly/examsession/telemetry"
)

// Engine holds the long-lived collaborators shared by every attempt: the
// attempt-state store, the portal API client, and the telemetry channel.
type Engine struct {
	cfg     *config.Config
	log     zerolog.Logger
	user    *identity.Session
	kv      store.KV
	exams   *provider.Client
	monitor *integrity.Monitor
	pub     integrity.Publisher
	closers []func() error
}

// New builds an Engine for one logged-in user from configuration. The
// attempt-state backend is chosen from the config: Redis when a Redis URL
// is set, Postgres when a database URL is set, otherwise the state file.
// Telemetry connects when a channel URL is set and degrades to a no-op
// publisher when the connection fails; monitoring still counts locally.
func New(ctx context.Context, cfg *config.Config, user *identity.Session) (*Engine, error) {
	if user == nil || user.UserID == "" {
		return nil, fmt.Errorf("engine requires a resolved user session")
	}

	e := &Engine{
		cfg:  cfg,
		log:  logger.Setup(cfg.LogLevel, cfg.LogFormat, nil),
		user: user,
	}

	kv, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	e.kv = kv

	e.exams = provider.NewClient(cfg.APIBaseURL, user.Token, e.log)

	e.pub = telemetry.Nop{}
	if cfg.TelemetryURL != "" {
		pub, err := telemetry.Dial(ctx, cfg.TelemetryURL, user.Token, e.log)
		if err != nil {
			e.log.Warn().Err(err).Msg("Telemetry channel unavailable, monitoring locally only")
		} else {
			e.pub = pub
			e.closers = append(e.closers, pub.Close)
		}
	}
	e.monitor = integrity.New(e.pub, e.log)

	return e, nil
}

// NewFromEnv builds an Engine from environment configuration and the
// portal access token.
func NewFromEnv(ctx context.Context, token string) (*Engine, error) {
	user, err := identity.FromToken(token)
	if err != nil {
		return nil, err
	}
	return New(ctx, config.Load(), user)
}

func (e *Engine) openStore(ctx context.Context) (store.KV, error) {
	switch {
	case e.cfg.RedisURL != "":
		r, err := store.DialRedis(ctx, e.cfg.RedisURL, e.log)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, r.Close)
		return r, nil
	case e.cfg.DatabaseURL != "":
		p, err := store.DialPostgres(ctx, e.cfg.DatabaseURL, e.log)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() error { p.Close(); return nil })
		return p, nil
	default:
		return store.NewFile(e.cfg.StatePath), nil
	}
}

// OpenSession creates the controller for one exam attempt. The returned
// controller is in LOADING state; call Initialize with the environment's
// signal stream to make it interactive.
func (e *Engine) OpenSession(examID string, fullscreen session.Fullscreen) *session.Controller {
	return session.New(session.Options{
		User:           e.user,
		ExamID:         examID,
		Exams:          e.exams,
		Submissions:    e.exams,
		Drafts:         e.drafts(),
		TimerStore:     e.kv,
		Monitor:        e.monitor,
		Fullscreen:     fullscreen,
		ViolationLimit: e.cfg.ViolationLimit,
		SubmitTimeout:  e.cfg.SubmitTimeout,
		TickInterval:   e.cfg.TickInterval,
		Logger:         e.log,
	})
}

func (e *Engine) drafts() *draft.Store {
	return draft.New(e.kv, e.log)
}

// User returns the session context the engine was built for.
func (e *Engine) User() *identity.Session {
	return e.user
}

// Close releases the engine's connections. Open sessions should be
// submitted or abandoned first.
func (e *Engine) Close() error {
	var firstErr error
	for _, c := range e.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
