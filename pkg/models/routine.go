package models

import "time"

// DateLayout is the date-only format used for done dates and the
// last-opened marker.
const DateLayout = "2006-01-02"

// RoutinePeriod tags the part of the day a routine belongs to.
type RoutinePeriod string

const (
	PeriodMorning   RoutinePeriod = "morning"
	PeriodAfternoon RoutinePeriod = "afternoon"
)

// Routine is a recurring, time-of-day checklist item. It counts as done only
// on the day recorded in DoneDate.
type Routine struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Time     string        `json:"time"`
	Period   RoutinePeriod `json:"period"`
	Done     bool          `json:"done"`
	DoneDate string        `json:"doneDate,omitempty"`
}

// DateOf formats t as a local calendar date.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// ResolveDoneState decides whether a routine is done today.
//
// A stored done date wins: the routine is done only when it equals today.
// Without one, the legacy done flag is trusted only if the previous session
// was opened today as well.
func ResolveDoneState(storedDoneDate string, legacyDone bool, lastOpenedDate, today string) bool {
	if storedDoneDate != "" {
		return storedDoneDate == today
	}
	if lastOpenedDate != today {
		return false
	}
	return legacyDone
}

// NormalizeRoutines returns a copy of routines with Done resolved against
// today. Routines that turn out not done lose their stale done date.
func NormalizeRoutines(routines []Routine, lastOpenedDate, today string) []Routine {
	out := make([]Routine, len(routines))
	for i, r := range routines {
		r.Done = ResolveDoneState(r.DoneDate, r.Done, lastOpenedDate, today)
		switch {
		case r.Done && r.DoneDate == "":
			r.DoneDate = today
		case !r.Done:
			r.DoneDate = ""
		}
		out[i] = r
	}
	return out
}

// RemoteDoneDate is the done date persisted remotely for r: the stored done
// date if present, today if the routine is currently done, otherwise empty.
func RemoteDoneDate(r Routine, today string) string {
	if r.DoneDate != "" {
		return r.DoneDate
	}
	if r.Done {
		return today
	}
	return ""
}
