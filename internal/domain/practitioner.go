package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Practitioner is a row in the practitioner directory. The scheduling core
// reads it and never mutates it; working days and hours are owned by the
// directory.
type Practitioner struct {
	bun.BaseModel `bun:"table:practitioners"`

	ID          string      `bun:"id,pk"`
	FullName    string      `bun:"full_name,notnull"`
	WorkingDays []int16     `bun:"working_days,array,notnull"`
	StartMinute MinuteOfDay `bun:"start_minute,notnull"`
	EndMinute   MinuteOfDay `bun:"end_minute,notnull"`
	CreatedAt   time.Time   `bun:"created_at,notnull"`
	UpdatedAt   time.Time   `bun:"updated_at,notnull"`
}

// WorkingHours is the practitioner's daily [start, end) window.
func (p *Practitioner) WorkingHours() Interval {
	return Interval{Start: p.StartMinute, End: p.EndMinute}
}

// WorksOn reports whether the practitioner accepts bookings on the
// weekday of date. Working days use ISO numbering, Monday=1..Sunday=7.
func (p *Practitioner) WorksOn(date time.Time) bool {
	wd := ISOWeekday(date)
	for _, d := range p.WorkingDays {
		if d == wd {
			return true
		}
	}
	return false
}

func (p *Practitioner) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		p.UpdatedAt = now
	}
	return nil
}
