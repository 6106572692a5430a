package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

const DefaultSlotMinutes = 30

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Service is the scheduling core: availability resolution, conflict
// detection and the booking lifecycle. It holds no state between requests;
// every call recomputes from the store's current contents.
type Service struct {
	directory   store.PractitionerDirectory
	repo        store.BookingRepository
	slotMinutes int
}

func NewService(directory store.PractitionerDirectory, repo store.BookingRepository, slotMinutes int) *Service {
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}
	return &Service{directory: directory, repo: repo, slotMinutes: slotMinutes}
}

// Availability is the transient day calendar view for one practitioner and
// date. It is computed per query and never cached.
type Availability struct {
	Available    bool
	Reason       string
	WorkingHours domain.Interval
	FreeSlots    []domain.Interval
}

const ReasonOffDay = "practitioner does not work on this weekday"

// ResolveAvailability returns the free slots for (practitioner, date), or
// an unavailable view when the practitioner is off that weekday.
func (s *Service) ResolveAvailability(ctx context.Context, practitionerID string, date time.Time) (Availability, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return Availability{}, validationError("practitioner_id is required")
	}

	p, err := s.directory.Get(ctx, practitionerID)
	if err != nil {
		return Availability{}, err
	}

	if !p.WorksOn(date) {
		return Availability{Available: false, Reason: ReasonOffDay}, nil
	}

	window := p.WorkingHours()
	if err := window.Validate(); err != nil {
		return Availability{}, err
	}

	candidates := domain.GenerateSlots(window, s.slotMinutes)

	booked, err := s.repo.ListActiveByDay(ctx, practitionerID, domain.DayStart(date))
	if err != nil {
		return Availability{}, err
	}

	free := make([]domain.Interval, 0, len(candidates))
	for _, slot := range candidates {
		if slotTaken(slot, booked) {
			continue
		}
		free = append(free, slot)
	}

	return Availability{
		Available:    true,
		WorkingHours: window,
		FreeSlots:    free,
	}, nil
}

// slotTaken marks a candidate busy when it overlaps any active booking, so
// a booking off the slot grid still renders its covered slots unavailable.
func slotTaken(slot domain.Interval, booked []domain.Booking) bool {
	for i := range booked {
		if slot.Overlaps(booked[i].Interval()) {
			return true
		}
	}
	return false
}

type ValidateInput struct {
	PractitionerID string
	Date           time.Time
	Span           domain.Interval
	ExcludeID      uuid.UUID
}

// ValidateBooking checks a proposed interval against working hours and
// existing active bookings. A nil return means no conflict. The check is
// read-only and advisory: the store repeats it atomically before any
// write, so this result is only trustworthy as an immediate precondition.
func (s *Service) ValidateBooking(ctx context.Context, in ValidateInput) error {
	if strings.TrimSpace(in.PractitionerID) == "" {
		return validationError("practitioner_id is required")
	}
	if err := in.Span.Validate(); err != nil {
		return err
	}

	p, err := s.directory.Get(ctx, in.PractitionerID)
	if err != nil {
		return err
	}
	if !p.WorksOn(in.Date) {
		return validationError(ReasonOffDay)
	}
	if !p.WorkingHours().Contains(in.Span) {
		return validationError("requested time is outside working hours")
	}

	n, err := s.repo.CountActiveOverlap(ctx, in.PractitionerID, domain.DayStart(in.Date), in.Span, in.ExcludeID)
	if err != nil {
		return err
	}
	if n > 0 {
		return store.ErrConflict
	}
	return nil
}

type CreateInput struct {
	PractitionerID string
	PatientRef     string
	Date           time.Time
	Span           domain.Interval
}

func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (domain.Booking, error) {
	if strings.TrimSpace(in.PatientRef) == "" {
		return domain.Booking{}, validationError("patient_ref is required")
	}

	if err := s.ValidateBooking(ctx, ValidateInput{
		PractitionerID: in.PractitionerID,
		Date:           in.Date,
		Span:           in.Span,
	}); err != nil {
		return domain.Booking{}, err
	}

	return s.repo.Insert(ctx, domain.Booking{
		PractitionerID: in.PractitionerID,
		PatientRef:     strings.TrimSpace(in.PatientRef),
		Date:           domain.DayStart(in.Date),
		StartMinute:    in.Span.Start,
		EndMinute:      in.Span.End,
		Status:         domain.BookingStatusScheduled,
	})
}

type RescheduleInput struct {
	PractitionerID string
	Date           time.Time
	Span           domain.Interval
}

// RescheduleBooking moves a booking to a new practitioner, date or
// interval. When nothing changed, the conflict check is skipped so the
// booking cannot spuriously conflict with itself.
func (s *Service) RescheduleBooking(ctx context.Context, id uuid.UUID, in RescheduleInput) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	date := domain.DayStart(in.Date)
	unchanged := current.PractitionerID == in.PractitionerID &&
		current.Date.Equal(date) &&
		current.StartMinute == in.Span.Start &&
		current.EndMinute == in.Span.End
	if !unchanged {
		if err := s.ValidateBooking(ctx, ValidateInput{
			PractitionerID: in.PractitionerID,
			Date:           in.Date,
			Span:           in.Span,
			ExcludeID:      id,
		}); err != nil {
			return domain.Booking{}, err
		}
	}

	return s.repo.Reschedule(ctx, id, store.RescheduleInput{
		PractitionerID: in.PractitionerID,
		Date:           date,
		StartMinute:    in.Span.Start,
		EndMinute:      in.Span.End,
	})
}

// Transition writes a lifecycle status. The state machine is deliberately
// unguarded: any known status may overwrite any other, which doubles as an
// administrative override. Only cancellation frees the slot, and the store
// rejects un-cancelling a booking whose slot has since been taken.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	if !domain.KnownStatus(status) {
		return domain.Booking{}, validationError("unknown status " + string(status))
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	if id == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListDayBookings(ctx context.Context, practitionerID string, date time.Time) ([]domain.Booking, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return nil, validationError("practitioner_id is required")
	}
	return s.repo.ListActiveByDay(ctx, practitionerID, domain.DayStart(date))
}

// IsValidationFailure reports whether err should be presented to the
// caller as a rejected request rather than an internal failure.
func IsValidationFailure(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) ||
		errors.Is(err, domain.ErrInvalidClock) ||
		errors.Is(err, domain.ErrInvalidInterval)
}
