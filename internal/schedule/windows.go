// Package schedule computes the two local-time fetch windows that tile the
// next UTC day for an airport. The flight API caps one request at 12 hours
// and takes zone-naive local timestamps, so a full day is fetched as two
// back-to-back 12h windows expressed in the airport's wall clock.
package schedule

import (
	"time"
	_ "time/tzdata"

	"github.com/ringsaturn/tzf"
	"github.com/rotisserie/eris"
)

// Layout renders a window bound the way the flight API expects it.
const Layout = "2006-01-02T15:04"

// TimezoneResolver maps a coordinate to an IANA timezone name.
type TimezoneResolver interface {
	TimezoneAt(lat, lon float64) (string, error)
}

// TZFResolver resolves timezones from the embedded tzf polygon data, no
// network lookup involved.
type TZFResolver struct {
	finder tzf.F
}

func NewTZFResolver() (*TZFResolver, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, eris.Wrap(err, "schedule: init timezone finder")
	}
	return &TZFResolver{finder: finder}, nil
}

func (r *TZFResolver) TimezoneAt(lat, lon float64) (string, error) {
	// tzf takes lon first.
	name := r.finder.GetTimezoneName(lon, lat)
	if name == "" {
		return "", eris.Errorf("schedule: no timezone at (%f, %f)", lat, lon)
	}
	return name, nil
}

// Window is a half-day span in zone-naive local time, inclusive on both ends.
type Window struct {
	From time.Time
	To   time.Time
}

// Scheduler computes fetch windows for airports.
type Scheduler struct {
	tz TimezoneResolver
}

func New(tz TimezoneResolver) *Scheduler {
	return &Scheduler{tz: tz}
}

// Windows returns the two 12h windows covering tomorrow's UTC day at the
// given coordinate. The anchor is tomorrow 00:00 UTC relative to now. Each
// bound is a fixed UTC instant, converted into the airport's wall clock
// individually and then stripped of its zone; on a DST transition day the
// local spans stretch or shrink but the UTC day stays fully tiled. The second
// window starts exactly where the first ends plus one microsecond.
func (s *Scheduler) Windows(now time.Time, lat, lon float64) ([2]Window, error) {
	var windows [2]Window

	name, err := s.tz.TimezoneAt(lat, lon)
	if err != nil {
		return windows, err
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return windows, eris.Wrapf(err, "schedule: load timezone %s", name)
	}

	utc := now.UTC()
	anchor := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	naive := func(t time.Time) time.Time {
		l := t.In(loc)
		return time.Date(l.Year(), l.Month(), l.Day(),
			l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
	}

	const half = 12 * time.Hour
	windows[0] = Window{From: naive(anchor), To: naive(anchor.Add(half - time.Microsecond))}
	windows[1] = Window{From: naive(anchor.Add(half)), To: naive(anchor.Add(2*half - time.Microsecond))}
	return windows, nil
}
