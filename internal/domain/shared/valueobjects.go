// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Contact Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Phone represents a student's phone number as received from the messaging platform.
type Phone string

// IsEmpty reports whether the phone is blank.
func (p Phone) IsEmpty() bool {
	return strings.TrimSpace(string(p)) == ""
}

// String returns the string representation.
func (p Phone) String() string {
	return string(p)
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Percentage is a value in the closed range [0, 100].
type Percentage float64

// MaxPercentage is the upper bound for any percentage.
const MaxPercentage Percentage = 100

// Clamp bounds the value to [0, 100].
func (p Percentage) Clamp() Percentage {
	if math.IsNaN(float64(p)) || p < 0 {
		return 0
	}
	if p > MaxPercentage {
		return MaxPercentage
	}
	return p
}

// Float64 returns the underlying float64 value.
func (p Percentage) Float64() float64 {
	return float64(p)
}

// ═══════════════════════════════════════════════════════════════════════════
// Calendar Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Date is a calendar day without time-of-day, stored at midnight UTC.
type Date struct {
	t time.Time
}

// DateOf returns the calendar day of t as observed in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the date as midnight UTC.
func (d Date) Time() time.Time {
	return d.t
}

// DaysSince returns the number of whole calendar days from other to d.
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, WrapError("shared", "ParseDate", ErrInvalidInput, "invalid date", err)
	}
	return Date{t: t}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// DefaultPagination returns default pagination settings.
func DefaultPagination() Pagination {
	return Pagination{Page: 1, PageSize: 20}
}
