// Package server monta a superfície HTTP: página de uso, preflight CORS, os dois
// endpoints de calendário (validação da data de nascimento, limite de
// concorrência e rate limit, nessa ordem), health e métricas.
package server

import (
	"context"
	"net/http"
	"time"

	"classcharts-ical/feed"
	"classcharts-ical/middleware/ratelimit"
	"classcharts-ical/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	BucketTimetable domain.Bucket = "timetable"
	BucketHomework  domain.Bucket = "homework"
)

// StudentFactory abre um cliente ClassCharts para um código e uma data DD/MM/YYYY.
type StudentFactory func(code, dob string) feed.Student

// Pinger informa se o store do rate limit responde.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RateLimitOptions struct {
	Store      domain.WindowStore
	Hasher     domain.IdentityHasher
	Stats      domain.StatsStore
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
	AddHeaders bool
}

type Options struct {
	Logger     *zap.Logger
	NewStudent StudentFactory
	Syncer     *feed.Syncer

	// RateLimit.Store == nil desliga o rate limit.
	RateLimit RateLimitOptions

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	Health  Pinger
	Metrics http.Handler
	Now     func() time.Time
}

type Server struct {
	log        *zap.Logger
	newStudent StudentFactory
	syncer     *feed.Syncer
	health     Pinger
	rateLimit  RateLimitOptions
	now        func() time.Time
}

// New monta o router.
func New(opts Options) http.Handler {
	s := &Server{
		log:        opts.Logger,
		newStudent: opts.NewStudent,
		syncer:     opts.Syncer,
		health:     opts.Health,
		rateLimit:  opts.RateLimit,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.syncer == nil {
		s.syncer = &feed.Syncer{Logger: s.log}
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(preflight)

	r.Get("/", s.usage)
	r.Get("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	sync := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            opts.ConcurrencyMax,
		AcquireTimeout: opts.ConcurrencyTimeout,
		Logger:         s.log,
	})

	s.calendarRoute(r, "/v2/timetable", BucketTimetable, opts.RateLimit, sync, s.timetable)
	s.calendarRoute(r, "/v2/homework", BucketHomework, opts.RateLimit, sync, s.homework)

	return r
}

func (s *Server) calendarRoute(r chi.Router, prefix string, bucket domain.Bucket, rl RateLimitOptions, sync func(http.Handler) http.Handler, h http.HandlerFunc) {
	// o slot vem antes do rate limit: o hash da identidade (Argon2id) também
	// fica limitado por CONCURRENCY_MAX
	chain := []func(http.Handler) http.Handler{validateDOB, sync}
	if rl.Store != nil {
		chain = append(chain, ratelimit.Middleware(ratelimit.Options{
			Store:               rl.Store,
			Hasher:              rl.Hasher,
			Stats:               rl.Stats,
			Logger:              s.log,
			Bucket:              bucket,
			Limit:               rl.Limit,
			Window:              rl.Window,
			KeyFn:               ratelimit.CredentialKeyFunc("code", "dob"),
			RejectMessage:       "Rate limited. Check the home page for details.",
			RetryAfter:          rl.RetryAfter,
			AddRateLimitHeaders: rl.AddHeaders,
		}))
	}

	r.With(chain...).Get(prefix+"/{code}/{dob}", h)
	r.With(chain...).Get(prefix+"/{code}/{dob}/*", h)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			http.Error(w, "rate limit store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// preflight responde OPTIONS em qualquer caminho, antes do roteamento.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Allow", "OPTIONS, GET")
		h.Set("Access-Control-Request-Method", "GET")
		h.Set("Access-Control-Request-Headers", "Content-Type, Content-Disposition")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	})
}
