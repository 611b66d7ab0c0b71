package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classcharts-ical/classcharts"
	"classcharts-ical/feed"
	"classcharts-ical/middleware/ratelimit/domain"
	"classcharts-ical/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)

type fakeStudent struct {
	loginErr error
	hwErr    error
}

func (f *fakeStudent) Login(context.Context) error { return f.loginErr }
func (f *fakeStudent) StudentID() int              { return 7 }

func (f *fakeStudent) Lessons(context.Context, time.Time) ([]classcharts.Lesson, error) {
	return nil, nil
}

func (f *fakeStudent) Homeworks(context.Context, time.Time, time.Time) ([]classcharts.Homework, error) {
	if f.hwErr != nil {
		return nil, f.hwErr
	}
	return []classcharts.Homework{{
		ID:        1,
		Title:     "Essay",
		Subject:   "English",
		IssueDate: "2026-10-12",
		DueDate:   "2026-10-20",
	}}, nil
}

type factory struct {
	mu      sync.Mutex
	student *fakeStudent
	logins  [][2]string
}

func (f *factory) New(code, dob string) feed.Student {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, [2]string{code, dob})
	return f.student
}

func newTestServer(t *testing.T, f *factory, limit int) http.Handler {
	t.Helper()
	if f.student == nil {
		f.student = &fakeStudent{}
	}
	opts := Options{
		NewStudent:     f.New,
		Syncer:         &feed.Syncer{Now: func() time.Time { return fixedNow }, Location: time.UTC},
		ConcurrencyMax: 4,
		Now:            func() time.Time { return fixedNow },
	}
	if limit > 0 {
		opts.RateLimit = RateLimitOptions{
			Store:  infra.NewMemoryWindowStore(),
			Hasher: infra.NewSHA512Hasher("test"),
			Limit:  limit,
			Window: time.Hour,
		}
	}
	return New(opts)
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestUsage_RendersBaseURLWithoutDefaultPort(t *testing.T) {
	h := newTestServer(t, &factory{}, 10)

	w := do(h, http.MethodGet, "http://example.com:80/")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "http://example.com/v2/timetable/<code>/<dob>")
	assert.Contains(t, body, "10 requests per hour")
	assert.Contains(t, body, "Lessons from 6 days ago to 33 days ahead.")
	assert.Contains(t, body, "Generated 18-10-2026")
}

func TestUsage_KeepsNonDefaultPort(t *testing.T) {
	h := newTestServer(t, &factory{}, 0)

	w := do(h, http.MethodGet, "http://localhost:8080/")

	assert.Contains(t, w.Body.String(), "http://localhost:8080/v2/homework/")
	assert.Contains(t, w.Body.String(), "Rate limiting is disabled")
}

func TestPreflight_AnyPath(t *testing.T) {
	h := newTestServer(t, &factory{}, 10)

	for _, path := range []string{"/", "/v2/timetable/ABC/01-02-2010", "/nope"} {
		w := do(h, http.MethodOptions, "http://example.com"+path)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "OPTIONS, GET", w.Header().Get("Allow"))
		assert.Equal(t, "GET", w.Header().Get("Access-Control-Request-Method"))
		assert.Equal(t, "Content-Type, Content-Disposition", w.Header().Get("Access-Control-Request-Headers"))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestTimetable_ServesCalendar(t *testing.T) {
	f := &factory{}
	h := newTestServer(t, f, 10)

	w := do(h, http.MethodGet, "http://example.com/v2/timetable/abc123/1-2-2010")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="calendar.ics"`, w.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "BEGIN:VCALENDAR"))
	require.Len(t, f.logins, 1)
	assert.Equal(t, [2]string{"abc123", "1/2/2010"}, f.logins[0])
}

func TestHomework_UsesTrailingSegmentAsFilename(t *testing.T) {
	h := newTestServer(t, &factory{}, 10)

	w := do(h, http.MethodGet, "http://example.com/v2/homework/ABC/01-02-2010/homework.ics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="homework.ics"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "SUMMARY:Essay")
}

func TestCalendar_InvalidDOBRejectedBeforeRateLimit(t *testing.T) {
	f := &factory{}
	h := newTestServer(t, f, 1)

	for _, dob := range []string{"2010-02-01", "1-2-10", "aa-bb-cccc"} {
		w := do(h, http.MethodGet, "http://example.com/v2/timetable/ABC/"+dob)
		require.Equal(t, http.StatusBadRequest, w.Code, dob)
		assert.Contains(t, w.Body.String(), "Invalid date of birth. Should be in format DD-MM-YYYY")
	}
	assert.Empty(t, f.logins)

	w := do(h, http.MethodGet, "http://example.com/v2/timetable/ABC/01-02-2010")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCalendar_LoginFailure(t *testing.T) {
	h := newTestServer(t, &factory{student: &fakeStudent{loginErr: classcharts.ErrUnauthenticated}}, 10)

	w := do(h, http.MethodGet, "http://example.com/v2/timetable/ABC/01-02-2010")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to authenticate with ClassCharts")
}

func TestHomework_UpstreamFailureIsBadGateway(t *testing.T) {
	h := newTestServer(t, &factory{student: &fakeStudent{hwErr: errors.New("boom")}}, 10)

	w := do(h, http.MethodGet, "http://example.com/v2/homework/ABC/01-02-2010")

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCalendar_RateLimitedPerEndpoint(t *testing.T) {
	f := &factory{}
	h := newTestServer(t, f, 2)

	for i := 0; i < 2; i++ {
		w := do(h, http.MethodGet, "http://example.com/v2/timetable/ABC/01-02-2010/a.ics")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(h, http.MethodGet, "http://example.com/v2/timetable/ABC/01-02-2010")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limited. Check the home page for details.")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Len(t, f.logins, 2)

	w = do(h, http.MethodGet, "http://example.com/v2/homework/ABC/01-02-2010")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodGet, "http://example.com/v2/timetable/XYZ/01-02-2010")
	assert.Equal(t, http.StatusOK, w.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	ok := New(Options{Health: pinger{}})
	assert.Equal(t, http.StatusOK, do(ok, http.MethodGet, "http://example.com/healthz").Code)

	down := New(Options{Health: pinger{err: errors.New("dial tcp: refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "http://example.com/healthz").Code)
}

func TestMetricsRouteOnlyWhenConfigured(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	assert.Equal(t, http.StatusNotFound, do(New(Options{}), http.MethodGet, "http://example.com/metrics").Code)

	w := do(New(Options{Metrics: metrics}), http.MethodGet, "http://example.com/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestFilename(t *testing.T) {
	cases := []struct {
		path, dob, want string
	}{
		{"/v2/timetable/ABC/01-02-2010", "01-02-2010", "calendar.ics"},
		{"/v2/timetable/ABC/01-02-2010/", "01-02-2010", "calendar.ics"},
		{"/v2/timetable/ABC/01-02-2010/school.ics", "01-02-2010", "school.ics"},
		{"/v2/homework/ABC/01-02-2010/a/b.ics", "01-02-2010", "b.ics"},
		{`/v2/homework/ABC/01-02-2010/x"y.ics`, "01-02-2010", "xy.ics"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, filename(c.path, c.dob), c.path)
	}
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "hour", humanDuration(time.Hour))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "day", humanDuration(24*time.Hour))
	assert.Equal(t, "30 minutes", humanDuration(30*time.Minute))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
}

// slowHasher conta quantos hashes rodam ao mesmo tempo.
type slowHasher struct {
	inner   domain.IdentityHasher
	running atomic.Int32
	peak    atomic.Int32
}

func (h *slowHasher) Hash(identifier string) (domain.Key, error) {
	n := h.running.Add(1)
	defer h.running.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return h.inner.Hash(identifier)
}

func TestCalendar_IdentityHashingBoundedBySyncSlots(t *testing.T) {
	hasher := &slowHasher{inner: infra.NewSHA512Hasher("test")}
	f := &factory{student: &fakeStudent{}}
	h := New(Options{
		NewStudent:         f.New,
		Syncer:             &feed.Syncer{Now: func() time.Time { return fixedNow }, Location: time.UTC},
		ConcurrencyMax:     1,
		ConcurrencyTimeout: 5 * time.Second,
		RateLimit: RateLimitOptions{
			Store:  infra.NewMemoryWindowStore(),
			Hasher: hasher,
			Limit:  100,
			Window: time.Hour,
		},
	})

	var wg sync.WaitGroup
	codes := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(h, http.MethodGet, "http://example.com/v2/homework/ABC/01-02-2010").Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, int32(1), hasher.peak.Load())
}
