package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

// 2026-01-05 is a Monday.
var testMonday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("CLINICBOOK_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("CLINICBOOK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A single connection keeps the session-scoped search_path stable.
	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "clinicbook_test_" + randomHex(t, 8)
	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	if _, err := db.NewRaw("SET search_path TO " + schema).Exec(ctx); err != nil {
		t.Fatalf("set search_path error: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations error: %v", err)
	}
	return db
}

func seedPractitioner(t *testing.T, db *bun.DB, id string) {
	t.Helper()
	p := domain.Practitioner{
		ID:          id,
		FullName:    "Dr. Test",
		WorkingDays: []int16{1, 2, 3, 4, 5},
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.NewInsert().Model(&p).Exec(ctx); err != nil {
		t.Fatalf("seed practitioner error: %v", err)
	}
}

func TestPostgresIntegration_BookingConflictsAndCodes(t *testing.T) {
	db := openTestDB(t)
	seedPractitioner(t, db, "dr-1")
	repo := NewBookingRepo(db, domain.CodeScopeDaily, "APT")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b1, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-1",
		PatientRef:     "p-1",
		Date:           testMonday,
		StartMinute:    10 * 60,
		EndMinute:      10*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("first insert error: %v", err)
	}
	if b1.ID == uuid.Nil {
		t.Fatalf("expected assigned id")
	}
	wantCode := domain.FormatDailyCode("APT", time.Now().UTC(), 1)
	if b1.Code != wantCode {
		t.Fatalf("code = %q, want %q", b1.Code, wantCode)
	}

	// Overlapping insert is rejected even though no prior validation ran:
	// the store is the authority.
	_, err = repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-1",
		PatientRef:     "p-2",
		Date:           testMonday,
		StartMinute:    10*60 + 15,
		EndMinute:      10*60 + 45,
		Status:         domain.BookingStatusScheduled,
	})
	if err != store.ErrConflict {
		t.Fatalf("overlap err = %v, want %v", err, store.ErrConflict)
	}

	// Back-to-back is not an overlap.
	b2, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-1",
		PatientRef:     "p-3",
		Date:           testMonday,
		StartMinute:    10*60 + 30,
		EndMinute:      11 * 60,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("adjacent insert error: %v", err)
	}
	if got, want := b2.Code, domain.FormatDailyCode("APT", time.Now().UTC(), 2); got != want {
		t.Fatalf("second code = %q, want %q", got, want)
	}

	// Cancelling frees the slot for rebooking.
	if _, err := repo.UpdateStatus(ctx, b1.ID, domain.BookingStatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	_, err = repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-1",
		PatientRef:     "p-4",
		Date:           testMonday,
		StartMinute:    10 * 60,
		EndMinute:      10*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("rebooking cancelled slot error: %v", err)
	}

	rows, err := repo.ListActiveByDay(ctx, "dr-1", testMonday)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("active rows = %d, want 2", len(rows))
	}
	if rows[0].StartMinute > rows[1].StartMinute {
		t.Fatalf("rows not ordered by start_minute")
	}
}

func TestPostgresIntegration_ReactivationRevalidatesSlot(t *testing.T) {
	db := openTestDB(t)
	seedPractitioner(t, db, "dr-3")
	repo := NewBookingRepo(db, domain.CodeScopeDaily, "APT")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b1, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-3",
		PatientRef:     "p-1",
		Date:           testMonday,
		StartMinute:    10 * 60,
		EndMinute:      10*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, b1.ID, domain.BookingStatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	// Another booking takes part of the freed slot, off the original grid.
	b2, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-3",
		PatientRef:     "p-2",
		Date:           testMonday,
		StartMinute:    10*60 + 15,
		EndMinute:      10*60 + 45,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("insert into freed slot error: %v", err)
	}

	// Un-cancelling b1 would overlap b2 without sharing its start minute.
	_, err = repo.UpdateStatus(ctx, b1.ID, domain.BookingStatusScheduled)
	if err != store.ErrConflict {
		t.Fatalf("reactivation onto overlap err = %v, want %v", err, store.ErrConflict)
	}

	// Same start minute must conflict as well, not surface a raw
	// unique-index violation.
	if _, err := repo.UpdateStatus(ctx, b2.ID, domain.BookingStatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	b3, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-3",
		PatientRef:     "p-3",
		Date:           testMonday,
		StartMinute:    10 * 60,
		EndMinute:      10*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}
	_, err = repo.UpdateStatus(ctx, b1.ID, domain.BookingStatusScheduled)
	if err != store.ErrConflict {
		t.Fatalf("reactivation onto same start err = %v, want %v", err, store.ErrConflict)
	}

	// With the slot free again the booking comes back.
	if _, err := repo.UpdateStatus(ctx, b3.ID, domain.BookingStatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	back, err := repo.UpdateStatus(ctx, b1.ID, domain.BookingStatusScheduled)
	if err != nil {
		t.Fatalf("reactivation into free slot error: %v", err)
	}
	if back.Status != domain.BookingStatusScheduled {
		t.Fatalf("status = %q, want %q", back.Status, domain.BookingStatusScheduled)
	}
}

func TestPostgresIntegration_DoubleBookingRaceClosed(t *testing.T) {
	db := openTestDB(t)
	seedPractitioner(t, db, "dr-race")
	repo := NewBookingRepo(db, domain.CodeScopeDaily, "APT")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Both requests pass the read-only validation before either writes,
	// reproducing the check-then-act gap.
	span := domain.Interval{Start: 14 * 60, End: 14*60 + 30}
	for i := 0; i < 2; i++ {
		n, err := repo.CountActiveOverlap(ctx, "dr-race", testMonday, span, uuid.Nil)
		if err != nil {
			t.Fatalf("count error: %v", err)
		}
		if n != 0 {
			t.Fatalf("pre-write count = %d, want 0", n)
		}
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.Insert(ctx, domain.Booking{
				PractitionerID: "dr-race",
				PatientRef:     fmt.Sprintf("p-%d", i),
				Date:           testMonday,
				StartMinute:    span.Start,
				EndMinute:      span.End,
				Status:         domain.BookingStatusScheduled,
			})
		}()
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch err {
		case nil:
			ok++
		case store.ErrConflict:
			conflict++
		default:
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("ok = %d, conflict = %d; exactly one insert must win", ok, conflict)
	}
}

func TestPostgresIntegration_RescheduleSelfAndConflict(t *testing.T) {
	db := openTestDB(t)
	seedPractitioner(t, db, "dr-2")
	repo := NewBookingRepo(db, domain.CodeScopeDaily, "APT")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b1, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-2",
		PatientRef:     "p-1",
		Date:           testMonday,
		StartMinute:    9 * 60,
		EndMinute:      9*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}
	b2, err := repo.Insert(ctx, domain.Booking{
		PractitionerID: "dr-2",
		PatientRef:     "p-2",
		Date:           testMonday,
		StartMinute:    11 * 60,
		EndMinute:      11*60 + 30,
		Status:         domain.BookingStatusScheduled,
	})
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}

	// Writing back the same schedule must not conflict with itself.
	same, err := repo.Reschedule(ctx, b1.ID, store.RescheduleInput{
		PractitionerID: "dr-2",
		Date:           testMonday,
		StartMinute:    b1.StartMinute,
		EndMinute:      b1.EndMinute,
	})
	if err != nil {
		t.Fatalf("unchanged reschedule error: %v", err)
	}
	if same.ID != b1.ID {
		t.Fatalf("reschedule returned id %v, want %v", same.ID, b1.ID)
	}

	// Moving onto another booking's interval is rejected.
	_, err = repo.Reschedule(ctx, b1.ID, store.RescheduleInput{
		PractitionerID: "dr-2",
		Date:           testMonday,
		StartMinute:    11*60 + 15,
		EndMinute:      11*60 + 45,
	})
	if err != store.ErrConflict {
		t.Fatalf("reschedule overlap err = %v, want %v", err, store.ErrConflict)
	}

	// Moving to a free interval succeeds.
	moved, err := repo.Reschedule(ctx, b1.ID, store.RescheduleInput{
		PractitionerID: "dr-2",
		Date:           testMonday,
		StartMinute:    12 * 60,
		EndMinute:      12*60 + 30,
	})
	if err != nil {
		t.Fatalf("reschedule error: %v", err)
	}
	if moved.StartMinute != 12*60 {
		t.Fatalf("moved start = %d, want %d", moved.StartMinute, 12*60)
	}
	_ = b2

	_, err = repo.UpdateStatus(ctx, uuid.MustParse("00000000-0000-0000-0000-00000000dead"), domain.BookingStatusCompleted)
	if err != store.ErrNotFound {
		t.Fatalf("missing booking err = %v, want %v", err, store.ErrNotFound)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := strings.TrimLeft(sql[upIdx+len(upMarker):], "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
