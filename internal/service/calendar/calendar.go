// Package calendar decides whether the exchange is in a trading session.
package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// HolidayProvider reports exchange holidays. day is midnight in exchange-local time.
type HolidayProvider interface {
	IsHoliday(day time.Time) bool
}

// StaticHolidays is a fixed set of YYYY-MM-DD dates.
type StaticHolidays map[string]struct{}

// NewStaticHolidays parses YYYY-MM-DD dates.
func NewStaticHolidays(dates []string) (StaticHolidays, error) {
	h := make(StaticHolidays, len(dates))
	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		h[d] = struct{}{}
	}
	return h, nil
}

func (h StaticHolidays) IsHoliday(day time.Time) bool {
	_, ok := h[day.Format(time.DateOnly)]
	return ok
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithSession sets the session bounds in minutes after local midnight, both inclusive.
func WithSession(openMin, closeMin int) Option {
	return func(c *Calendar) {
		c.openMin = openMin
		c.closeMin = closeMin
	}
}

// WithHolidays plugs in a holiday provider.
func WithHolidays(h HolidayProvider) Option {
	return func(c *Calendar) {
		c.holidays = h
	}
}

// Calendar is a fixed weekly schedule: Monday to Friday, 09:15 to 15:30 exchange-local by default.
// It holds no mutable state.
type Calendar struct {
	loc      *time.Location
	openMin  int
	closeMin int
	holidays HolidayProvider
}

const (
	DefaultTimezone = "Asia/Kolkata"
	defaultOpenMin  = 9*60 + 15
	defaultCloseMin = 15*60 + 30
)

// New builds a calendar for the named IANA timezone.
func New(timezone string, opts ...Option) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	c := &Calendar{loc: loc, openMin: defaultOpenMin, closeMin: defaultCloseMin}
	for _, opt := range opts {
		opt(c)
	}
	if c.openMin >= c.closeMin {
		return nil, fmt.Errorf("session open %d must be before close %d", c.openMin, c.closeMin)
	}
	return c, nil
}

// IsOpen reports whether t falls inside a trading session.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.holidays != nil {
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
		if c.holidays.IsHoliday(day) {
			return false
		}
	}
	// minute resolution: 15:30:59 still counts as 15:30
	m := local.Hour()*60 + local.Minute()
	return m >= c.openMin && m <= c.closeMin
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }
