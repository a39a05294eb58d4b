// Package chunk splits date ranges into calendar-month windows.
package chunk

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvertedRange is returned when a range ends before it starts.
var ErrInvertedRange = errors.New("date range start is after end")

// DateRange is an inclusive [From, To] interval.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange validates from <= to.
func NewDateRange(from, to time.Time) (DateRange, error) {
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvertedRange, from.Format(time.DateTime), to.Format(time.DateTime))
	}
	return DateRange{From: from, To: to}, nil
}

// Chunk is one calendar-month window of a DateRange. Both ends are inclusive.
type Chunk struct {
	Start time.Time
	End   time.Time
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s→%s", c.Start.Format(time.DateTime), c.End.Format(time.DateTime))
}

// Plan walks the range one calendar month at a time. Each chunk ends one
// second before the same day of the following month, capped at r.To, and the
// next chunk starts one second after the previous end.
func Plan(r DateRange) []Chunk {
	if r.From.After(r.To) {
		return nil
	}

	var out []Chunk
	current := r.From
	for {
		end := addMonth(current).Add(-time.Second)
		if end.After(r.To) {
			end = r.To
		}
		out = append(out, Chunk{Start: current, End: end})
		if !end.Before(r.To) {
			return out
		}
		current = end.Add(time.Second)
	}
}

// addMonth advances t by one calendar month, clamping the day to the last day
// of the target month (Jan 31 -> Feb 29 in a leap year) instead of letting
// time.AddDate roll over into the month after.
func addMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Validate checks that chunks cover r exactly with one-second seams.
func Validate(r DateRange, chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks for range %s→%s", r.From.Format(time.DateTime), r.To.Format(time.DateTime))
	}
	if !chunks[0].Start.Equal(r.From) {
		return fmt.Errorf("first chunk starts at %s, want %s", chunks[0].Start.Format(time.DateTime), r.From.Format(time.DateTime))
	}
	if last := chunks[len(chunks)-1]; !last.End.Equal(r.To) {
		return fmt.Errorf("last chunk ends at %s, want %s", last.End.Format(time.DateTime), r.To.Format(time.DateTime))
	}
	for i, c := range chunks {
		if c.End.Before(c.Start) {
			return fmt.Errorf("chunk %d inverted: %s", i, c)
		}
		if i == 0 {
			continue
		}
		if prev := chunks[i-1]; !prev.End.Add(time.Second).Equal(c.Start) {
			return fmt.Errorf("gap between chunk %d (%s) and chunk %d (%s)", i-1, prev, i, c)
		}
	}
	return nil
}
