// Package classcharts is a small client for the ClassCharts student API: session
// login with a pupil code and date of birth, then timetable and homework reads.
package classcharts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.classcharts.com"

	sessionCookie = "student_session_credentials"
	dateLayout    = "2006-01-02"
)

var (
	ErrUnauthenticated = errors.New("classcharts: login rejected")
	ErrNotLoggedIn     = errors.New("classcharts: not logged in")
)

// Client holds one student's session. It is not safe for concurrent use; a
// request builds its own client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	code string
	dob  string

	sessionID string
	cookies   []*http.Cookie
	studentID int
}

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter paces every outbound call. Share one limiter across clients to
// bound the whole process.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New builds a client for the pupil code and date of birth (DD/MM/YYYY).
func New(code, dob string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		code:       strings.ToUpper(strings.TrimSpace(code)),
		dob:        dob,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StudentID is known after a successful Login.
func (c *Client) StudentID() int { return c.studentID }

// Login opens a session and resolves the student id.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("_method", "POST")
	form.Set("code", c.code)
	form.Set("dob", c.dob)
	form.Set("remember_me", "1")
	form.Set("recaptcha-token", "no-token-available")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/student/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("%w: status %d", ErrUnauthenticated, resp.StatusCode)
	}

	var creds sessionCredentials
	for _, ck := range resp.Cookies() {
		if ck.Name != sessionCookie {
			continue
		}
		raw, err := url.QueryUnescape(ck.Value)
		if err != nil {
			return fmt.Errorf("%w: bad session cookie: %v", ErrUnauthenticated, err)
		}
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			return fmt.Errorf("%w: bad session cookie: %v", ErrUnauthenticated, err)
		}
	}
	if creds.SessionID == "" {
		return fmt.Errorf("%w: no session cookie", ErrUnauthenticated)
	}

	c.cookies = resp.Cookies()
	c.sessionID = creds.SessionID
	return c.ping(ctx)
}

// ping refreshes the session id and reads the student id.
func (c *Client) ping(ctx context.Context) error {
	form := url.Values{}
	form.Set("include_data", "true")

	var data pingData
	meta, err := c.call(ctx, http.MethodPost, "/apiv2student/ping", nil, strings.NewReader(form.Encode()), &data)
	if err != nil {
		return err
	}
	var m pingMeta
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m); err == nil && m.SessionID != "" {
			c.sessionID = m.SessionID
		}
	}
	if data.User.ID == 0 {
		return fmt.Errorf("%w: ping returned no student", ErrUnauthenticated)
	}
	c.studentID = data.User.ID
	return nil
}

// Lessons returns the timetable of a single day.
func (c *Client) Lessons(ctx context.Context, day time.Time) ([]Lesson, error) {
	if c.studentID == 0 {
		return nil, ErrNotLoggedIn
	}
	q := url.Values{}
	q.Set("date", day.Format(dateLayout))

	var lessons []Lesson
	if _, err := c.call(ctx, http.MethodGet, "/apiv2student/timetable/"+strconv.Itoa(c.studentID), q, nil, &lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

// Homeworks lists homework due between from and to (inclusive).
func (c *Client) Homeworks(ctx context.Context, from, to time.Time) ([]Homework, error) {
	if c.studentID == 0 {
		return nil, ErrNotLoggedIn
	}
	q := url.Values{}
	q.Set("display_date", "due_date")
	q.Set("from", from.Format(dateLayout))
	q.Set("to", to.Format(dateLayout))

	var homeworks []Homework
	if _, err := c.call(ctx, http.MethodGet, "/apiv2student/homeworks/"+strconv.Itoa(c.studentID), q, nil, &homeworks); err != nil {
		return nil, err
	}
	return homeworks, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Basic "+c.sessionID)
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Endpoint: path, StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.StatusCode >= 300 || env.Success == 0 {
		return nil, &APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return env.Meta, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upstream pacing: %w", err)
	}
	return nil
}
