package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

const (
	constraintActiveSlot = "bookings_active_slot_key"
	constraintCode       = "bookings_code_key"
)

type BookingRepo struct {
	db        *bun.DB
	codeScope domain.CodeScope
	prefix    string
}

func NewBookingRepo(db *bun.DB, codeScope domain.CodeScope, codePrefix string) *BookingRepo {
	if codePrefix == "" {
		codePrefix = "APT"
	}
	return &BookingRepo{db: db, codeScope: codeScope, prefix: codePrefix}
}

func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepo) ListActiveByDay(ctx context.Context, practitionerID string, date time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Where("practitioner_id = ?", practitionerID).
		Where("date = ?", domain.DayStart(date)).
		Where("status <> ?", domain.BookingStatusCancelled).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) CountActiveOverlap(ctx context.Context, practitionerID string, date time.Time, span domain.Interval, excludeID uuid.UUID) (int, error) {
	return countActiveOverlap(ctx, r.db, practitionerID, date, span, excludeID)
}

func (r *BookingRepo) CountCreatedBetween(ctx context.Context, windowStart, windowEnd time.Time) (int, error) {
	return r.db.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("created_at >= ?", windowStart).
		Where("created_at < ?", windowEnd).
		Count(ctx)
}

// errCodeTaken signals that another transaction claimed the computed
// sequence number. A failed statement aborts the surrounding transaction,
// so the retry re-runs the whole transaction, not just the insert.
var errCodeTaken = errors.New("booking code taken")

// Insert writes a new booking under the per-practitioner advisory lock,
// re-running the overlap check so the earlier read-only validation cannot
// go stale between check and write. The code unique index backstops the
// count-based sequence; a collision triggers a bounded recount.
func (r *BookingRepo) Insert(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	booking.Date = domain.DayStart(booking.Date)

	for attempt := 0; attempt < store.CodeAssignRetries; attempt++ {
		out, err := r.insertOnce(ctx, booking)
		if errors.Is(err, errCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Booking{}, err
		}
		return out, nil
	}
	return domain.Booking{}, store.ErrCodeExhausted
}

func (r *BookingRepo) insertOnce(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	var out domain.Booking
	err := r.inPractitionerTx(ctx, booking.PractitionerID, func(ctx context.Context, tx bun.Tx) error {
		n, err := countActiveOverlap(ctx, tx, booking.PractitionerID, booking.Date, booking.Interval(), uuid.Nil)
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}

		now := time.Now().UTC()
		windowStart, windowEnd := domain.CodeWindow(r.codeScope, now)
		seq, err := countCreatedBetween(ctx, tx, windowStart, windowEnd)
		if err != nil {
			return err
		}

		m := booking
		m.Code = domain.FormatCode(r.codeScope, r.prefix, now, seq+1)
		m.CreatedAt = now
		m.UpdatedAt = now

		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				switch pgErr.ConstraintName {
				case constraintActiveSlot:
					return store.ErrConflict
				case constraintCode:
					return errCodeTaken
				}
			}
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

// Reschedule moves a booking. When practitioner, date and both interval
// boundaries are unchanged the overlap check is skipped so the booking
// does not conflict with itself.
func (r *BookingRepo) Reschedule(ctx context.Context, id uuid.UUID, in store.RescheduleInput) (domain.Booking, error) {
	in.Date = domain.DayStart(in.Date)

	var out domain.Booking
	err := r.inPractitionerTx(ctx, in.PractitionerID, func(ctx context.Context, tx bun.Tx) error {
		var current domain.Booking
		err := tx.NewSelect().
			Model(&current).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		unchanged := current.PractitionerID == in.PractitionerID &&
			current.Date.Equal(in.Date) &&
			current.StartMinute == in.StartMinute &&
			current.EndMinute == in.EndMinute
		if unchanged {
			out = current
			return nil
		}

		span := domain.Interval{Start: in.StartMinute, End: in.EndMinute}
		n, err := countActiveOverlap(ctx, tx, in.PractitionerID, in.Date, span, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}

		current.PractitionerID = in.PractitionerID
		current.Date = in.Date
		current.StartMinute = in.StartMinute
		current.EndMinute = in.EndMinute

		_, err = tx.NewUpdate().
			Model(&current).
			Column("practitioner_id", "date", "start_minute", "end_minute", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraintActiveSlot {
				return store.ErrConflict
			}
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

// UpdateStatus writes a booking's status. Moving a cancelled booking back
// to an active status re-enters the slot, so that path runs under the
// practitioner lock and re-runs the overlap check: the slot may have been
// taken since the cancellation.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) (domain.Booking, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	var out domain.Booking
	err = r.inPractitionerTx(ctx, current.PractitionerID, func(ctx context.Context, tx bun.Tx) error {
		var b domain.Booking
		err := tx.NewSelect().
			Model(&b).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		reactivating := !b.Active() && status != domain.BookingStatusCancelled
		if reactivating {
			n, err := countActiveOverlap(ctx, tx, b.PractitionerID, b.Date, b.Interval(), id)
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrConflict
			}
		}

		b.Status = status
		_, err = tx.NewUpdate().
			Model(&b).
			Column("status", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraintActiveSlot {
				return store.ErrConflict
			}
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

// inPractitionerTx serializes writes per practitioner with an advisory
// transaction lock, so two near-simultaneous bookings for the same slot
// cannot both pass revalidation.
func (r *BookingRepo) inPractitionerTx(ctx context.Context, practitionerID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", practitionerID).Exec(ctx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

type queryer interface {
	NewSelect() *bun.SelectQuery
}

func countActiveOverlap(ctx context.Context, q queryer, practitionerID string, date time.Time, span domain.Interval, excludeID uuid.UUID) (int, error) {
	query := q.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("practitioner_id = ?", practitionerID).
		Where("date = ?", domain.DayStart(date)).
		Where("status <> ?", domain.BookingStatusCancelled).
		Where("start_minute < ?", span.End).
		Where("end_minute > ?", span.Start)
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	return query.Count(ctx)
}

func countCreatedBetween(ctx context.Context, q queryer, windowStart, windowEnd time.Time) (int, error) {
	return q.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("created_at >= ?", windowStart).
		Where("created_at < ?", windowEnd).
		Count(ctx)
}
