package feed

import (
	"context"
	"fmt"
	"time"

	"classcharts-ical/calendar"
	"classcharts-ical/classcharts"

	"go.uber.org/zap"
)

// DayResult is the outcome of one per-day timetable fetch. Err means the day
// was skipped; Dropped holds lessons left out of an otherwise fetched day.
type DayResult struct {
	Date    time.Time
	Events  int
	Err     error
	Dropped []error
}

func (d DayResult) Skipped() bool { return d.Err != nil }

// TimetableSummary aggregates the per-day results of a timetable sync.
type TimetableSummary struct {
	Days []DayResult
}

func (s TimetableSummary) Fetched() int {
	n := 0
	for _, d := range s.Days {
		if !d.Skipped() {
			n++
		}
	}
	return n
}

func (s TimetableSummary) Skipped() []DayResult {
	var out []DayResult
	for _, d := range s.Days {
		if d.Skipped() {
			out = append(out, d)
		}
	}
	return out
}

// DroppedLessons counts lessons left out of fetched days.
func (s TimetableSummary) DroppedLessons() int {
	n := 0
	for _, d := range s.Days {
		n += len(d.Dropped)
	}
	return n
}

func (s TimetableSummary) Events() int {
	n := 0
	for _, d := range s.Days {
		n += d.Events
	}
	return n
}

// Timetable fetches each day of the window in order. A failing day is
// recorded and left out of the calendar; the sync itself never fails.
func (s *Syncer) Timetable(ctx context.Context, student Student) (*calendar.Builder, TimetableSummary) {
	cal := calendar.New(TimetableName)
	stamp := syncedAt(s.now())
	start := s.today().AddDate(0, 0, -TimetableLookbackDays)

	summary := TimetableSummary{Days: make([]DayResult, 0, TimetableDays)}
	for i := 1; i <= TimetableDays; i++ {
		day := start.AddDate(0, 0, i)
		res := DayResult{Date: day}

		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Events, res.Dropped, res.Err = s.timetableDay(ctx, student, cal, day, stamp)
		}
		summary.Days = append(summary.Days, res)
		s.Metrics.observeDay(res)
	}

	if skipped := summary.Skipped(); len(skipped) > 0 {
		log := s.logger()
		for _, d := range skipped {
			log.Debug("timetable day skipped",
				zap.String("date", d.Date.Format("2006-01-02")),
				zap.Error(d.Err))
		}
	}
	for _, d := range summary.Days {
		for _, err := range d.Dropped {
			s.logger().Debug("timetable lesson dropped",
				zap.String("date", d.Date.Format("2006-01-02")),
				zap.Error(err))
		}
	}
	s.Metrics.observeEvents(TimetableName, summary.Events())
	return cal, summary
}

// timetableDay adds the day's lessons to cal. A lesson with unreadable times is
// dropped on its own; the rest of the day still goes out.
func (s *Syncer) timetableDay(ctx context.Context, student Student, cal *calendar.Builder, day time.Time, stamp string) (int, []error, error) {
	lessons, err := student.Lessons(ctx, day)
	if err != nil {
		return 0, nil, err
	}

	var dropped []error
	added := 0
	for _, l := range lessons {
		ev, err := LessonEvent(l, stamp)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		cal.Add(ev)
		added++
	}
	return added, dropped, nil
}

// LessonEvent maps a lesson onto a timed event.
func LessonEvent(l classcharts.Lesson, stamp string) (calendar.Event, error) {
	start, err := time.Parse(time.RFC3339, l.StartTime)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("lesson start %q: %w", l.StartTime, err)
	}
	end, err := time.Parse(time.RFC3339, l.EndTime)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("lesson end %q: %w", l.EndTime, err)
	}

	return calendar.Event{
		Start:   start,
		End:     end,
		Summary: l.LessonName + " - " + l.RoomName,
		Description: "Teacher Name: " + l.TeacherName + "\n" +
			"Subject: " + l.SubjectName + "\n" +
			"Synced At: " + stamp,
	}, nil
}
