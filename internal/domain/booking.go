package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusScheduled BookingStatus = "scheduled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// KnownStatus reports whether s is one of the four lifecycle statuses.
// The lifecycle itself is unguarded: any known status may overwrite any
// other.
func KnownStatus(s BookingStatus) bool {
	switch s {
	case BookingStatusScheduled, BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID             uuid.UUID     `bun:"id,pk,type:uuid"`
	Code           string        `bun:"code,notnull"`
	PractitionerID string        `bun:"practitioner_id,notnull"`
	PatientRef     string        `bun:"patient_ref,notnull"`
	Date           time.Time     `bun:"date,notnull,type:date"`
	StartMinute    MinuteOfDay   `bun:"start_minute,notnull"`
	EndMinute      MinuteOfDay   `bun:"end_minute,notnull"`
	Status         BookingStatus `bun:"status,notnull"`
	CreatedAt      time.Time     `bun:"created_at,notnull"`
	UpdatedAt      time.Time     `bun:"updated_at,notnull"`
}

// Interval is the booking's occupied [start, end) time-of-day range.
func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartMinute, End: b.EndMinute}
}

// Active reports whether the booking occupies its interval for conflict
// purposes. Completed and no-show bookings still count; only cancelled
// bookings free the slot.
func (b *Booking) Active() bool {
	return b.Status != BookingStatusCancelled
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.Status == "" {
			b.Status = BookingStatusScheduled
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}
