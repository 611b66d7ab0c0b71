package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"classcharts-ical/middleware/ratelimit/application"
	"classcharts-ical/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// KeyFunc extrai o identificador cru do cliente. Ele nunca sai deste processo:
// o Service guarda apenas o digest.
type KeyFunc func(r *http.Request) string

type Options struct {
	Store  domain.WindowStore
	Hasher domain.IdentityHasher
	Stats  domain.StatsStore
	Logger *zap.Logger

	Bucket domain.Bucket
	Limit  int
	Window time.Duration
	KeyFn  KeyFunc

	RejectStatus        int
	RejectMessage       string
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

// CredentialKeyFunc monta o identificador "código/data de nascimento" a partir
// dos parâmetros de rota do chi.
func CredentialKeyFunc(codeParam, dobParam string) KeyFunc {
	return func(r *http.Request) string {
		code := chi.URLParam(r, codeParam)
		dob := chi.URLParam(r, dobParam)
		if code == "" || dob == "" {
			return ""
		}
		return code + "/" + dob
	}
}

// Middleware aplica a janela deslizante de Options.Bucket a cada requisição.
//
// Falhas do store (ou chave vazia) contam como bloqueio: é melhor negar uma
// sincronização do que liberar o ClassCharts sem limite.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RejectMessage == "" {
		opts.RejectMessage = http.StatusText(opts.RejectStatus)
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = CredentialKeyFunc("code", "dob")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.Service{
		Store:      opts.Store,
		Hasher:     opts.Hasher,
		RetryAfter: opts.RetryAfter,
	}
	log := opts.Logger.With(zap.String("bucket", string(opts.Bucket)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec, err := svc.TryAcquire(r.Context(), opts.Bucket, opts.KeyFn(r), opts.Limit, opts.Window)
			if err != nil {
				log.Error("rate limit check failed, rejecting", zap.Error(err))
				dec = domain.Decision{Allowed: false, RetryAfter: opts.RetryAfter}
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Bucket:  opts.Bucket,
					Key:     dec.Key,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    routePattern(r),
					At:      time.Now(),
				}); err != nil {
					log.Warn("rate limit stats not recorded", zap.Error(err))
				}
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(opts.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			}
			if !dec.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(dec.RetryAfter)))
				http.Error(w, opts.RejectMessage, opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	// caminho cru carrega código e data de nascimento; guarda só o prefixo
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return r.URL.Path
}

func retryAfterSeconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		return 1
	}
	return s
}
