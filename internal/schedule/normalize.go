// Package schedule orders a student's time-slot map for display.
package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Map is a schedule as stored by the schedule service: time-range label to activity.
type Map map[string]string

// Meridiem is AM or PM.
type Meridiem string

const (
	AM Meridiem = "AM"
	PM Meridiem = "PM"
)

// Clock is a 12-hour wall time.
type Clock struct {
	Hour     int // 1-12
	Minute   int
	Meridiem Meridiem
}

// Minutes returns minutes past midnight. 12 AM is 0, 12 PM is 720.
func (c Clock) Minutes() int {
	h := c.Hour % 12
	if c.Meridiem == PM {
		h += 12
	}
	return h*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%d:%02d %s", c.Hour, c.Minute, c.Meridiem)
}

// On returns the wall time on day's date in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(time.Duration(c.Minutes()) * time.Minute)
}

// Range is a parsed time-range label.
type Range struct {
	Start Clock
	End   Clock
	// Inferred is true when the label carried no start marker.
	Inferred bool

	label    string
	startEnd int // byte offset just past the start time in label
}

// Display returns the source label with the inferred start marker inserted
// after the start time, e.g. "11:30 - 12:30 PM" becomes "11:30 AM - 12:30 PM".
// Labels that already carry a start marker are returned as written.
func (r Range) Display() string {
	if !r.Inferred {
		return r.label
	}
	return r.label[:r.startEnd] + " " + string(r.Start.Meridiem) + r.label[r.startEnd:]
}

var labelPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2}):(\d{2})\s*(AM|PM)?\s*-\s*(\d{1,2}):(\d{2})\s*(AM|PM)\s*$`)

// ParseLabel parses "H:MM - H:MM AM|PM". The start may carry its own marker;
// when it does not, it is inferred from the end: a PM range whose start hour
// is numerically after its end hour (12 counting as 0) started in the
// morning, anything else shares the end's marker.
func ParseLabel(label string) (Range, bool) {
	idx := labelPattern.FindStringSubmatchIndex(label)
	if idx == nil {
		return Range{}, false
	}
	m := make([]string, len(idx)/2)
	for i := range m {
		if idx[2*i] >= 0 {
			m[i] = label[idx[2*i]:idx[2*i+1]]
		}
	}
	sh, sm, ok1 := clockParts(m[1], m[2])
	eh, em, ok2 := clockParts(m[4], m[5])
	if !ok1 || !ok2 {
		return Range{}, false
	}
	end := Clock{Hour: eh, Minute: em, Meridiem: Meridiem(strings.ToUpper(m[6]))}
	start := Clock{Hour: sh, Minute: sm}

	r := Range{End: end, label: label, startEnd: idx[5]}
	if m[3] != "" {
		start.Meridiem = Meridiem(strings.ToUpper(m[3]))
	} else {
		r.Inferred = true
		start.Meridiem = end.Meridiem
		if end.Meridiem == PM && sh < 12 && sh > eh%12 {
			start.Meridiem = AM
		}
	}
	r.Start = start
	return r, true
}

func clockParts(hs, ms string) (int, int, bool) {
	h, err := strconv.Atoi(hs)
	if err != nil || h < 1 || h > 12 {
		return 0, 0, false
	}
	mm, err := strconv.Atoi(ms)
	if err != nil || mm > 59 {
		return 0, 0, false
	}
	return h, mm, true
}

// Entry is one schedule row ready for display.
type Entry struct {
	Label    string `json:"label"`
	Display  string `json:"display"`
	Activity string `json:"activity"`
	SortKey  int    `json:"sort_key"`
	IsPast   bool   `json:"is_past"`
	// Malformed rows keep the raw label, sort first and are never past.
	Malformed bool `json:"malformed,omitempty"`
}

// Normalize orders m by start time and flags slots that ended before now.
// Equal start times are ordered by label. A nil or empty map yields no rows.
func Normalize(m Map, now time.Time) []Entry {
	entries := make([]Entry, 0, len(m))
	for label, activity := range m {
		e := Entry{Label: label, Display: label, Activity: activity}
		if r, ok := ParseLabel(label); ok {
			e.Display = r.Display()
			e.SortKey = r.Start.Minutes()
			e.IsPast = now.After(r.End.On(now))
		} else {
			e.Malformed = true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SortKey != entries[j].SortKey {
			return entries[i].SortKey < entries[j].SortKey
		}
		return entries[i].Label < entries[j].Label
	})
	return entries
}

// MalformedCount reports how many entries failed to parse.
func MalformedCount(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Malformed {
			n++
		}
	}
	return n
}
