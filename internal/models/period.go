package models

import (
	"fmt"
	"time"
)

// Period is a competência: the month/year a statement is attributed to.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewPeriod creates a period for the given month and year
func NewPeriod(month, year int) Period {
	return Period{Month: month, Year: year}
}

// Validate checks the month and year are usable
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month must be between 1 and 12: %d", p.Month)
	}
	if p.Year < 1 {
		return fmt.Errorf("year must be positive: %d", p.Year)
	}
	return nil
}

// FirstDay returns the first calendar day of the period
func (p Period) FirstDay() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns the last calendar day of the period. Day 0 of the next
// month normalizes to the last day of this one, so month length and leap
// years come from the calendar.
func (p Period) LastDay() time.Time {
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether the calendar date of t falls inside the period, inclusive
func (p Period) Contains(t time.Time) bool {
	d := DateOnly(t)
	return !d.Before(p.FirstDay()) && !d.After(p.LastDay())
}

// String returns the period as MM/YYYY
func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", p.Month, p.Year)
}
