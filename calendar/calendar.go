// Package calendar accumulates events and renders them as an iCalendar feed.
package calendar

import (
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const ProductID = "-//classcharts-ical//ClassCharts to iCal//EN"

// Event is one entry of the feed. End is optional; AllDay events only use the
// date part of Start (and End, when set).
type Event struct {
	UID         string
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
	AllDay      bool
}

// Builder wraps an ics.Calendar with METHOD:REQUEST and a display name.
type Builder struct {
	cal   *ics.Calendar
	stamp time.Time
	n     int
}

func New(name string) *Builder {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(name)
	return &Builder{cal: cal, stamp: time.Now().UTC()}
}

func (b *Builder) Add(ev Event) {
	uid := ev.UID
	if uid == "" {
		uid = uuid.NewString()
	}
	ve := b.cal.AddEvent(uid)
	ve.SetDtStampTime(b.stamp)
	if ev.AllDay {
		ve.SetAllDayStartAt(ev.Start)
		if !ev.End.IsZero() {
			ve.SetAllDayEndAt(ev.End)
		}
	} else {
		ve.SetStartAt(ev.Start)
		if !ev.End.IsZero() {
			ve.SetEndAt(ev.End)
		}
	}
	ve.SetSummary(ev.Summary)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	b.n++
}

func (b *Builder) Len() int { return b.n }

func (b *Builder) String() string { return b.cal.Serialize() }
