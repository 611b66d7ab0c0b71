package feed

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"classcharts-ical/calendar"
	"classcharts-ical/classcharts"
)

const (
	StatusSubmitted = "SUBMITTED"
	StatusTicked    = "TICKED"
	StatusTodo      = "TODO"

	homeworkLinkBase = "https://www.classcharts.com/mobile/student#"
)

var markup = regexp.MustCompile(`<[^>]*>?`)

// StatusLabel collapses the nested homework status into one label.
func StatusLabel(st classcharts.HomeworkStatus) string {
	switch {
	case st.State == "completed":
		return StatusSubmitted
	case st.Ticked == "yes":
		return StatusTicked
	default:
		return StatusTodo
	}
}

// StripMarkup drops anything tag-shaped and trims the result.
func StripMarkup(s string) string {
	return strings.TrimSpace(markup.ReplaceAllString(s, ""))
}

// Homework fetches every homework due in the window with a single call.
func (s *Syncer) Homework(ctx context.Context, student Student) (*calendar.Builder, error) {
	today := s.today()
	from := today.AddDate(0, 0, -HomeworkLookbackDays)
	to := today.AddDate(0, 0, HomeworkLookaheadDays)

	homeworks, err := student.Homeworks(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch homeworks: %w", err)
	}

	cal := calendar.New(HomeworkName)
	stamp := syncedAt(s.now())
	for _, hw := range homeworks {
		ev, err := HomeworkEvent(hw, student.StudentID(), stamp, s.loc())
		if err != nil {
			return nil, err
		}
		cal.Add(ev)
	}
	s.Metrics.observeEvents(HomeworkName, cal.Len())
	return cal, nil
}

// HomeworkEvent maps a homework onto an all-day event on its due date.
func HomeworkEvent(hw classcharts.Homework, studentID int, stamp string, loc *time.Location) (calendar.Event, error) {
	due, err := parseDay(hw.DueDate, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("homework %d due date: %w", hw.ID, err)
	}

	issued := hw.IssueDate
	if t, err := parseDay(hw.IssueDate, loc); err == nil {
		issued = syncedAt(t)
	}

	var b strings.Builder
	b.WriteString("Subject: " + hw.Subject + "\n")
	b.WriteString("Teacher: " + hw.Teacher + "\n")
	b.WriteString("Issue Date: " + issued + "\n")
	b.WriteString("Status: " + StatusLabel(hw.Status) + "\n")
	b.WriteString("Synced At: " + stamp + "\n")
	b.WriteString("More Info: " + homeworkLinkBase + strconv.Itoa(studentID) + ",homework," + strconv.Itoa(hw.ID) + "\n")
	b.WriteString("Description:\n")
	b.WriteString(StripMarkup(hw.Description))

	return calendar.Event{
		Start:       due,
		Summary:     hw.Title,
		Description: b.String(),
		AllDay:      true,
	}, nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
