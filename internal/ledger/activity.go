package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Activity is one logged entry. DurationMinutes is derived from the gap to
// the following entry's end time.
type Activity struct {
	ID              string    `json:"id"`
	TimestampStart  time.Time `json:"timestampStart"`
	TimestampEnd    time.Time `json:"timestampEnd"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"durationMinutes"`
}

// Duration returns DurationMinutes as a time.Duration.
func (a Activity) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// MarkerKind names a synthetic pause/resume entry appended on session changes.
type MarkerKind string

const (
	MarkerPausedLogout  MarkerKind = "paused (logged out)"
	MarkerPausedLock    MarkerKind = "paused (locked)"
	MarkerResumedUnlock MarkerKind = "resumed (unlocked)"
)

// IsMarker reports whether the activity is a session marker of kind.
func (a Activity) IsMarker(kind MarkerKind) bool {
	return a.Description == string(kind)
}

// record is the on-disk form. Timestamps stay strings so unparsable values
// can be detected and the record dropped.
type record struct {
	ID              string `json:"id"`
	TimestampStart  string `json:"timestampStart"`
	TimestampEnd    string `json:"timestampEnd"`
	Description     string `json:"description"`
	DurationMinutes *int   `json:"durationMinutes,omitempty"`
}

const timestampLayout = time.RFC3339Nano

func toRecord(a Activity) record {
	d := a.DurationMinutes
	return record{
		ID:              a.ID,
		TimestampStart:  a.TimestampStart.UTC().Format(timestampLayout),
		TimestampEnd:    a.TimestampEnd.UTC().Format(timestampLayout),
		Description:     a.Description,
		DurationMinutes: &d,
	}
}

func toRecords(activities []Activity) []record {
	out := make([]record, 0, len(activities))
	for _, a := range activities {
		out = append(out, toRecord(a))
	}
	return out
}

// fromRecord converts a stored record. hasDuration is false when the record
// carried no durationMinutes field. An empty reason means the record is valid.
func fromRecord(r record) (a Activity, hasDuration bool, reason string) {
	if strings.TrimSpace(r.ID) == "" {
		return Activity{}, false, "missing id"
	}
	if strings.TrimSpace(r.Description) == "" {
		return Activity{}, false, "missing description"
	}
	end, err := time.Parse(timestampLayout, strings.TrimSpace(r.TimestampEnd))
	if err != nil {
		return Activity{}, false, "missing or invalid timestampEnd"
	}
	start, err := time.Parse(timestampLayout, strings.TrimSpace(r.TimestampStart))
	if err != nil {
		return Activity{}, false, "missing or invalid timestampStart"
	}
	a = Activity{
		ID:             r.ID,
		TimestampStart: start,
		TimestampEnd:   end,
		Description:    r.Description,
	}
	if r.DurationMinutes != nil {
		a.DurationMinutes = max(0, *r.DurationMinutes)
		hasDuration = true
	}
	return a, hasDuration, ""
}

// decodeRecords validates stored records and returns the sorted activities
// plus the reasons for every dropped record. Stored durations are kept and
// missing ones derived.
func decodeRecords(records []record) ([]Activity, []string) {
	activities := make([]Activity, 0, len(records))
	known := make([]bool, 0, len(records))
	var dropped []string
	for _, r := range records {
		a, hasDuration, reason := fromRecord(r)
		if reason != "" {
			dropped = append(dropped, reason)
			continue
		}
		activities = append(activities, a)
		known = append(known, hasDuration)
	}

	order := make([]int, len(activities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return activities[order[i]].TimestampEnd.Before(activities[order[j]].TimestampEnd)
	})
	sorted := make([]Activity, len(activities))
	sortedKnown := make([]bool, len(activities))
	for i, idx := range order {
		sorted[i] = activities[idx]
		sortedKnown[i] = known[idx]
	}
	for i := range sorted {
		if !sortedKnown[i] {
			sorted[i].DurationMinutes = derivedDuration(sorted, i)
		}
	}
	return sorted, dropped
}

// insertIndex returns the position that keeps activities sorted by end time,
// placing end after any entries with an equal timestamp.
func insertIndex(activities []Activity, end time.Time) int {
	return sort.Search(len(activities), func(i int) bool {
		return activities[i].TimestampEnd.After(end)
	})
}

func insertAt(activities []Activity, idx int, a Activity) []Activity {
	activities = append(activities, Activity{})
	copy(activities[idx+1:], activities[idx:])
	activities[idx] = a
	return activities
}

func derivedDuration(activities []Activity, i int) int {
	if i+1 >= len(activities) {
		return 0
	}
	gap := activities[i+1].TimestampEnd.Sub(activities[i].TimestampEnd)
	return max(0, int(gap/time.Minute))
}

// recomputeDurations rewrites every derived duration. Explicit overrides do
// not survive this.
func recomputeDurations(activities []Activity) {
	for i := range activities {
		activities[i].DurationMinutes = derivedDuration(activities, i)
	}
}

func newActivityID() string {
	return uuid.NewString()
}

func indexOf(activities []Activity, id string) int {
	for i, a := range activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}
