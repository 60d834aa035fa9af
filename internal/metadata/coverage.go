package metadata

import (
	"math"
	"time"
)

// extent accumulates a bounding box over finite points.
type extent struct {
	west, south, east, north float64
	n                        int
}

func (e *extent) add(x, y float64) {
	if !finite(x) || !finite(y) {
		return
	}
	if e.n == 0 {
		e.west, e.east, e.south, e.north = x, x, y, y
	} else {
		e.west = math.Min(e.west, x)
		e.east = math.Max(e.east, x)
		e.south = math.Min(e.south, y)
		e.north = math.Max(e.north, y)
	}
	e.n++
}

func (e *extent) empty() bool { return e.n == 0 }

// coverage renders the extent as a point or box spatial coverage.
func (e *extent) coverage() map[string]any {
	if e.n == 1 || (e.west == e.east && e.south == e.north) {
		return map[string]any{
			"type":  "point",
			"east":  e.east,
			"north": e.north,
		}
	}
	return map[string]any{
		"type":       "box",
		"westLimit":  e.west,
		"eastLimit":  e.east,
		"southLimit": e.south,
		"northLimit": e.north,
	}
}

// period accumulates a temporal coverage.
type period struct {
	start, end time.Time
}

func (p *period) add(t time.Time) {
	if t.IsZero() {
		return
	}
	if p.start.IsZero() || t.Before(p.start) {
		p.start = t
	}
	if p.end.IsZero() || t.After(p.end) {
		p.end = t
	}
}

func (p *period) empty() bool { return p.start.IsZero() }

func (p *period) coverage() map[string]any {
	return map[string]any{
		"start": p.start.UTC().Format(time.RFC3339),
		"end":   p.end.UTC().Format(time.RFC3339),
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// parseTime tries the timestamp layouts seen in CSV, ODM2 and CF files.
// Zoneless values are taken as UTC.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
