package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"classcharts-ical/classcharts"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)

type fakeStudent struct {
	days      []time.Time
	failOn    map[string]bool
	lessons   []classcharts.Lesson
	homeworks []classcharts.Homework
	hwErr     error
	from, to  time.Time
}

func (f *fakeStudent) Login(context.Context) error { return nil }
func (f *fakeStudent) StudentID() int              { return 4242 }

func (f *fakeStudent) Lessons(_ context.Context, day time.Time) ([]classcharts.Lesson, error) {
	f.days = append(f.days, day)
	if f.failOn[day.Format("2006-01-02")] {
		return nil, errors.New("upstream 500")
	}
	return f.lessons, nil
}

func (f *fakeStudent) Homeworks(_ context.Context, from, to time.Time) ([]classcharts.Homework, error) {
	f.from, f.to = from, to
	return f.homeworks, f.hwErr
}

func newSyncer() *Syncer {
	return &Syncer{Now: func() time.Time { return fixedNow }, Location: time.UTC}
}

func lesson() classcharts.Lesson {
	return classcharts.Lesson{
		TeacherName: "Ms Smith",
		LessonName:  "10A/Ma1",
		SubjectName: "Maths",
		RoomName:    "M4",
		StartTime:   "2026-10-19T09:00:00+01:00",
		EndTime:     "2026-10-19T10:00:00+01:00",
	}
}

func TestTimetable_FetchesFortyDaysSequentially(t *testing.T) {
	student := &fakeStudent{lessons: []classcharts.Lesson{lesson()}}
	cal, summary := newSyncer().Timetable(context.Background(), student)

	require.Len(t, student.days, TimetableDays)
	assert.Equal(t, "2026-10-12", student.days[0].Format("2006-01-02"))
	assert.Equal(t, "2026-11-20", student.days[TimetableDays-1].Format("2006-01-02"))
	for i := 1; i < len(student.days); i++ {
		assert.Equal(t, 24*time.Hour, student.days[i].Sub(student.days[i-1]))
	}

	assert.Equal(t, TimetableDays, summary.Fetched())
	assert.Empty(t, summary.Skipped())
	assert.Equal(t, TimetableDays, cal.Len())
	assert.Contains(t, cal.String(), "SUMMARY:10A/Ma1 - M4")
}

func TestTimetable_SkipsFailingDays(t *testing.T) {
	student := &fakeStudent{
		lessons: []classcharts.Lesson{lesson()},
		failOn:  map[string]bool{"2026-10-20": true, "2026-10-21": true},
	}
	cal, summary := newSyncer().Timetable(context.Background(), student)

	assert.Len(t, summary.Days, TimetableDays)
	assert.Equal(t, TimetableDays-2, summary.Fetched())
	skipped := summary.Skipped()
	require.Len(t, skipped, 2)
	assert.Equal(t, "2026-10-20", skipped[0].Date.Format("2006-01-02"))
	assert.EqualError(t, skipped[0].Err, "upstream 500")
	assert.Equal(t, TimetableDays-2, cal.Len())
}

func TestTimetable_BadLessonTimeDropsOnlyThatLesson(t *testing.T) {
	bad := lesson()
	bad.EndTime = "not a time"
	after := lesson()
	after.LessonName = "10A/En2"
	student := &fakeStudent{lessons: []classcharts.Lesson{lesson(), bad, after}}

	cal, summary := newSyncer().Timetable(context.Background(), student)

	assert.Empty(t, summary.Skipped())
	assert.Equal(t, TimetableDays, summary.DroppedLessons())
	assert.Equal(t, 2*TimetableDays, summary.Events())
	assert.Equal(t, 2*TimetableDays, cal.Len())
	require.Len(t, summary.Days[0].Dropped, 1)
	assert.ErrorContains(t, summary.Days[0].Dropped[0], "lesson end")
	assert.Contains(t, cal.String(), "SUMMARY:10A/En2 - M4")
}

func TestTimetable_StopsCallingUpstreamWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	student := &fakeStudent{lessons: []classcharts.Lesson{lesson()}}

	_, summary := newSyncer().Timetable(ctx, student)
	assert.Empty(t, student.days)
	assert.Len(t, summary.Skipped(), TimetableDays)
	assert.ErrorIs(t, summary.Days[0].Err, context.Canceled)
}

func TestTimetable_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	s := newSyncer()
	s.Metrics = m
	student := &fakeStudent{lessons: []classcharts.Lesson{lesson()}, failOn: map[string]bool{"2026-10-12": true}}
	s.Timetable(context.Background(), student)

	assert.Equal(t, float64(TimetableDays-1), testutil.ToFloat64(m.days.WithLabelValues("fetched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.days.WithLabelValues("skipped")))
	assert.Equal(t, float64(TimetableDays-1), testutil.ToFloat64(m.events.WithLabelValues(TimetableName)))
}

func TestLessonEvent_Mapping(t *testing.T) {
	ev, err := LessonEvent(lesson(), "Sun, 18 Oct 2026 14:30:00 GMT")
	require.NoError(t, err)

	assert.Equal(t, "10A/Ma1 - M4", ev.Summary)
	assert.True(t, ev.Start.Equal(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)))
	assert.True(t, ev.End.Equal(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	assert.False(t, ev.AllDay)
	assert.Equal(t, "Teacher Name: Ms Smith\nSubject: Maths\nSynced At: Sun, 18 Oct 2026 14:30:00 GMT", ev.Description)
}

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		name   string
		status classcharts.HomeworkStatus
		want   string
	}{
		{"completed", classcharts.HomeworkStatus{State: "completed", Ticked: "no"}, StatusSubmitted},
		{"completed and ticked", classcharts.HomeworkStatus{State: "completed", Ticked: "yes"}, StatusSubmitted},
		{"ticked only", classcharts.HomeworkStatus{State: "not_completed", Ticked: "yes"}, StatusTicked},
		{"neither", classcharts.HomeworkStatus{State: "late", Ticked: "no"}, StatusTodo},
		{"empty", classcharts.HomeworkStatus{}, StatusTodo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusLabel(tc.status))
		})
	}
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Read chapter 3 and answer questions", StripMarkup("  <p>Read <b>chapter 3</b> and answer questions</p>\n"))
	assert.Equal(t, "broken", StripMarkup("broken<br"))
	assert.Equal(t, "", StripMarkup("<div></div>"))
}

func TestHomework_SingleRangedFetch(t *testing.T) {
	student := &fakeStudent{homeworks: []classcharts.Homework{
		{
			ID: 7, Title: "Essay", Subject: "English", Teacher: "Mr Jones",
			Description: "<p>Write 500 words</p>",
			IssueDate:   "2026-10-10", DueDate: "2026-10-20",
			Status: classcharts.HomeworkStatus{State: "completed"},
		},
		{
			ID: 8, Title: "Worksheet", Subject: "Maths", Teacher: "Ms Smith",
			IssueDate: "2026-10-11", DueDate: "2026-10-22",
			Status: classcharts.HomeworkStatus{Ticked: "yes"},
		},
	}}

	cal, err := newSyncer().Homework(context.Background(), student)
	require.NoError(t, err)

	assert.Equal(t, "2026-09-16", student.from.Format("2006-01-02"))
	assert.Equal(t, "2027-10-19", student.to.Format("2006-01-02"))
	assert.Equal(t, 2, cal.Len())

	out := cal.String()
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20261020")
	assert.Contains(t, out, "SUMMARY:Essay")
	assert.Contains(t, out, "X-WR-CALNAME:ClassCharts Homeworks")
}

func TestHomeworkEvent_Description(t *testing.T) {
	hw := classcharts.Homework{
		ID: 7, Title: "Essay", Subject: "English", Teacher: "Mr Jones",
		Description: "<p>Write <i>500</i> words</p>",
		IssueDate:   "2026-10-10", DueDate: "2026-10-20",
		Status: classcharts.HomeworkStatus{Ticked: "yes"},
	}
	ev, err := HomeworkEvent(hw, 4242, "Sun, 18 Oct 2026 14:30:00 GMT", time.UTC)
	require.NoError(t, err)

	assert.True(t, ev.AllDay)
	assert.Equal(t, "Essay", ev.Summary)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), ev.Start)

	lines := strings.Split(ev.Description, "\n")
	assert.Equal(t, []string{
		"Subject: English",
		"Teacher: Mr Jones",
		"Issue Date: Sat, 10 Oct 2026 00:00:00 GMT",
		"Status: TICKED",
		"Synced At: Sun, 18 Oct 2026 14:30:00 GMT",
		"More Info: https://www.classcharts.com/mobile/student#4242,homework,7",
		"Description:",
		"Write 500 words",
	}, lines)
}

func TestHomeworkEvent_BadDueDate(t *testing.T) {
	_, err := HomeworkEvent(classcharts.Homework{ID: 1, DueDate: "soon"}, 1, "", time.UTC)
	assert.Error(t, err)
}

func TestHomework_FetchError(t *testing.T) {
	student := &fakeStudent{hwErr: errors.New("upstream down")}
	_, err := newSyncer().Homework(context.Background(), student)
	assert.ErrorContains(t, err, "upstream down")
}
