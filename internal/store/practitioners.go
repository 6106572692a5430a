package store

import (
	"context"

	"clinicbook/backend/internal/domain"
)

// PractitionerDirectory is the read-only view of practitioner identity,
// working days and working hours.
type PractitionerDirectory interface {
	Get(ctx context.Context, id string) (domain.Practitioner, error)
}
