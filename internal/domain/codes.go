package domain

import (
	"fmt"
	"time"
)

type CodeScope string

const (
	CodeScopeDaily   CodeScope = "daily"
	CodeScopeMonthly CodeScope = "monthly"
)

// FormatDailyCode renders the n-th booking of a calendar day as
// PREFIX-YYMMDD-NNN. The sequence part is zero-padded to three digits and
// widens naturally past 999.
func FormatDailyCode(prefix string, date time.Time, n int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, date.UTC().Format("060102"), n)
}

// FormatMonthlyCode renders the n-th booking of a calendar month as
// PREFIX-YY-MM-NNNN.
func FormatMonthlyCode(prefix string, date time.Time, n int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, date.UTC().Format("06-01"), n)
}

// CodeWindow returns the [start, end) creation window that scopes the
// sequence counter for date.
func CodeWindow(scope CodeScope, date time.Time) (time.Time, time.Time) {
	d := DayStart(date)
	if scope == CodeScopeMonthly {
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	return d, d.AddDate(0, 0, 1)
}

// FormatCode dispatches on scope; unknown scopes fall back to daily.
func FormatCode(scope CodeScope, prefix string, date time.Time, n int) string {
	if scope == CodeScopeMonthly {
		return FormatMonthlyCode(prefix, date, n)
	}
	return FormatDailyCode(prefix, date, n)
}
