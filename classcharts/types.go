package classcharts

import (
	"encoding/json"
	"fmt"
)

// envelope is the shape every apiv2student endpoint answers with.
type envelope struct {
	Success int             `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Error   string          `json:"error"`
}

// APIError is returned when ClassCharts answers with success == 0 or a non-2xx status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("classcharts %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("classcharts %s: %s", e.Endpoint, e.Message)
}

// Lesson is a single timetable entry.
type Lesson struct {
	TeacherName string `json:"teacher_name"`
	LessonName  string `json:"lesson_name"`
	SubjectName string `json:"subject_name"`
	RoomName    string `json:"room_name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	PeriodName  string `json:"period_name"`
}

// Homework is a single homework task as listed for a student.
type Homework struct {
	ID          int            `json:"id"`
	Title       string         `json:"title"`
	Subject     string         `json:"subject"`
	Teacher     string         `json:"teacher"`
	Description string         `json:"description"`
	IssueDate   string         `json:"issue_date"`
	DueDate     string         `json:"due_date"`
	Status      HomeworkStatus `json:"status"`
}

type HomeworkStatus struct {
	ID int `json:"id"`
	// State is "completed", "not_completed", "late" or empty.
	State string `json:"state"`
	// Ticked is "yes" when the student ticked the task off.
	Ticked string `json:"ticked"`
}

type pingData struct {
	User struct {
		ID        int    `json:"id"`
		FirstName string `json:"first_name"`
	} `json:"user"`
}

type pingMeta struct {
	SessionID string `json:"session_id"`
}

type sessionCredentials struct {
	SessionID string `json:"session_id"`
}
