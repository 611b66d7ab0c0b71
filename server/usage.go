package server

import (
	_ "embed"
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/template"
	"time"

	"classcharts-ical/feed"

	"go.uber.org/zap"
)

//go:embed usage.txt
var usageText string

var usageTemplate = template.Must(template.New("usage").Parse(usageText))

type usageData struct {
	BaseURL string

	TimetableLookback int
	TimetableAhead    int
	HomeworkLookback  int
	HomeworkAhead     int

	RateLimited bool
	Limit       int
	Window      string

	Date string
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	data := usageData{
		BaseURL: baseURL(r),
		// a janela começa em hoje-7 mas o primeiro dia buscado é o seguinte
		TimetableLookback: feed.TimetableLookbackDays - 1,
		TimetableAhead:    feed.TimetableDays - feed.TimetableLookbackDays,
		HomeworkLookback:  feed.HomeworkLookbackDays,
		HomeworkAhead:     feed.HomeworkLookaheadDays,
		RateLimited:       s.rateLimit.Store != nil,
		Limit:             s.rateLimit.Limit,
		Window:            humanDuration(s.rateLimit.Window),
		Date:              s.now().Format("02-01-2006"),
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := usageTemplate.Execute(w, data); err != nil {
		s.log.Error("render usage", zap.Error(err))
	}
}

// baseURL reconstrói a URL pública a partir do Host, omitindo as portas padrão.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}

	host := r.Host
	if h, port, err := net.SplitHostPort(host); err == nil && (port == "80" || port == "443") {
		host = h
		if strings.Contains(h, ":") {
			host = "[" + h + "]"
		}
	}
	return scheme + "://" + host
}

func humanDuration(d time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case d <= 0:
		return d.String()
	case d%(24*time.Hour) == 0:
		return unit(int64(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	}
	return d.String()
}
