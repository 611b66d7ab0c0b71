// Package feed turns ClassCharts timetable and homework records into calendars.
package feed

import (
	"context"
	"time"

	"classcharts-ical/classcharts"

	"go.uber.org/zap"
)

const (
	// Timetable covers today-6 .. today+33: the API serves one day per call.
	TimetableLookbackDays = 7
	TimetableDays         = 40

	HomeworkLookbackDays  = 32
	HomeworkLookaheadDays = 366

	TimetableName = "ClassCharts Timetable"
	HomeworkName  = "ClassCharts Homeworks"

	// RFC 1123 in GMT, the shape of JS Date#toUTCString
	syncedLayout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Student is the part of the ClassCharts client a sync needs.
type Student interface {
	Login(ctx context.Context) error
	StudentID() int
	Lessons(ctx context.Context, day time.Time) ([]classcharts.Lesson, error)
	Homeworks(ctx context.Context, from, to time.Time) ([]classcharts.Homework, error)
}

// Syncer builds calendars for one logged-in student at a time.
type Syncer struct {
	Now      func() time.Time
	Location *time.Location
	Logger   *zap.Logger
	Metrics  *Metrics
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Syncer) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *Syncer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// today is local midnight in the configured zone.
func (s *Syncer) today() time.Time {
	n := s.now().In(s.loc())
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc())
}

func syncedAt(t time.Time) string {
	return t.UTC().Format(syncedLayout)
}
