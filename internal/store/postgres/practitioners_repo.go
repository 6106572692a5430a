package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

type PractitionerRepo struct {
	db *bun.DB
}

func NewPractitionerRepo(db *bun.DB) *PractitionerRepo {
	return &PractitionerRepo{db: db}
}

func (r *PractitionerRepo) Get(ctx context.Context, id string) (domain.Practitioner, error) {
	var p domain.Practitioner
	err := r.db.NewSelect().
		Model(&p).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Practitioner{}, store.ErrNotFound
		}
		return domain.Practitioner{}, err
	}
	return p, nil
}
