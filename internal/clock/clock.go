// Package clock supplies the current instant and the user's local calendar
// date. Every time-dependent service takes a Clock instead of calling
// time.Now directly.
package clock

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"fincal/internal/cache"
	"fincal/internal/core"
)

type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// At is shorthand for a Fixed clock at the given UTC instant.
func At(year, month, day, hour int) Fixed {
	return Fixed(time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC))
}

// Zones resolves IANA zone names through an LRU cache.
type Zones struct {
	fallback string
	cache    *cache.LRUCache[*time.Location]
}

func NewZones(fallback string, size int, ttl time.Duration) *Zones {
	return &Zones{fallback: fallback, cache: cache.NewLRUCache[*time.Location](size, ttl)}
}

// Cache exposes the underlying cache so it can be swept by a cache.Manager.
func (z *Zones) Cache() cache.Cleaner { return z.cache }

// Load returns the location for name. An empty name resolves to the
// fallback zone, then to UTC.
func (z *Zones) Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = z.fallback
	}
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	return z.cache.GetOrLoad(name, func() (*time.Location, error) {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown time zone %q", core.ErrValidation, name)
		}
		return loc, nil
	})
}

// Today returns the calendar date of c.Now() in the named zone.
func (z *Zones) Today(c Clock, tz string) (core.Date, error) {
	loc, err := z.Load(tz)
	if err != nil {
		return core.Date{}, err
	}
	return core.DateOf(c.Now().In(loc)), nil
}

var defaultZones = NewZones("", 64, 24*time.Hour)

// Today is Zones.Today over a package-level cache with UTC fallback.
func Today(c Clock, tz string) (core.Date, error) {
	return defaultZones.Today(c, tz)
}
