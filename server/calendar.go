package server

import (
	"io"
	"net/http"
	"regexp"
	"strings"

	"classcharts-ical/calendar"
	"classcharts-ical/feed"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultFilename = "calendar.ics"

// dia e mês com um ou dois dígitos, ano com quatro
var dateOfBirth = regexp.MustCompile(`^[0-9]{1,2}-[0-9]{1,2}-[0-9]{4}$`)

// validateDOB roda antes do rate limit: requisição malformada não gasta cota.
func validateDOB(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !dateOfBirth.MatchString(chi.URLParam(r, "dob")) {
			http.Error(w, "Invalid date of birth. Should be in format DD-MM-YYYY", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timetable(w http.ResponseWriter, r *http.Request) {
	student, ok := s.login(w, r)
	if !ok {
		return
	}

	cal, summary := s.syncer.Timetable(r.Context(), student)
	s.log.Debug("timetable synced",
		zap.Int("days_fetched", summary.Fetched()),
		zap.Int("days_skipped", len(summary.Skipped())),
		zap.Int("lessons_dropped", summary.DroppedLessons()),
		zap.Int("events", summary.Events()))

	writeCalendar(w, r, cal)
}

func (s *Server) homework(w http.ResponseWriter, r *http.Request) {
	student, ok := s.login(w, r)
	if !ok {
		return
	}

	cal, err := s.syncer.Homework(r.Context(), student)
	if err != nil {
		s.log.Warn("homework sync failed", zap.Error(err))
		http.Error(w, "Failed to fetch homework from ClassCharts", http.StatusBadGateway)
		return
	}

	writeCalendar(w, r, cal)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) (student feed.Student, ok bool) {
	code := chi.URLParam(r, "code")
	dob := strings.ReplaceAll(chi.URLParam(r, "dob"), "-", "/")

	student = s.newStudent(code, dob)
	if err := student.Login(r.Context()); err != nil {
		s.log.Info("classcharts login failed", zap.Error(err))
		http.Error(w, "Failed to authenticate with ClassCharts", http.StatusBadRequest)
		return nil, false
	}
	return student, true
}

func writeCalendar(w http.ResponseWriter, r *http.Request, cal *calendar.Builder) {
	name := filename(r.URL.Path, chi.URLParam(r, "dob"))
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, cal.String())
}

// filename é o último segmento do caminho, ou calendar.ics quando esse segmento
// é a própria data de nascimento (sem nome no fim) ou vazio.
func filename(path, dob string) string {
	last := path[strings.LastIndex(path, "/")+1:]
	last = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, last)
	if last == "" || last == dob {
		return defaultFilename
	}
	return last
}
