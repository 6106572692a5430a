package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
)

// CodeAssignRetries bounds the recount-and-retry loop when an insert
// collides on the booking code unique index.
const CodeAssignRetries = 3

// RescheduleInput carries the mutable booking fields. The conflict check
// and the write are applied together inside one store transaction.
type RescheduleInput struct {
	PractitionerID string
	Date           time.Time
	StartMinute    domain.MinuteOfDay
	EndMinute      domain.MinuteOfDay
}

type BookingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// ListActiveByDay returns the non-cancelled bookings for one
	// practitioner and day bucket, ordered by start time.
	ListActiveByDay(ctx context.Context, practitionerID string, date time.Time) ([]domain.Booking, error)

	// CountActiveOverlap counts non-cancelled bookings for the same
	// practitioner and day whose interval overlaps [start, end) under the
	// half-open rule, excluding excludeID when non-nil.
	CountActiveOverlap(ctx context.Context, practitionerID string, date time.Time, span domain.Interval, excludeID uuid.UUID) (int, error)

	// CountCreatedBetween counts bookings created in [windowStart,
	// windowEnd), the read half of the code sequence assignment.
	CountCreatedBetween(ctx context.Context, windowStart, windowEnd time.Time) (int, error)

	// Insert persists a new booking, assigning its code inside the same
	// serialized transaction as the overlap revalidation. Returns
	// ErrConflict when the interval is taken and ErrCodeExhausted when the
	// code retry budget runs out.
	Insert(ctx context.Context, booking domain.Booking) (domain.Booking, error)

	// Reschedule moves a booking to a new practitioner/date/interval with
	// the same conflict guarantees as Insert, excluding the booking itself.
	Reschedule(ctx context.Context, id uuid.UUID, in RescheduleInput) (domain.Booking, error)

	// UpdateStatus writes the lifecycle status. The transition table is
	// unguarded, but moving a cancelled booking back to an active status
	// re-runs the overlap check and returns ErrConflict when the slot has
	// been taken since.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error)
}
