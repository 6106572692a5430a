// Package dircache caches practitioner directory lookups. Working days and
// hours are read-only to the scheduling core and change rarely, so a short
// TTL keeps availability queries from hitting the directory on every
// request. Booking data is never cached here.
package dircache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

type Directory struct {
	inner store.PractitionerDirectory
	cache *expirable.LRU[string, domain.Practitioner]
}

func New(inner store.PractitionerDirectory, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = 256
	}
	return &Directory{
		inner: inner,
		cache: expirable.NewLRU[string, domain.Practitioner](size, nil, ttl),
	}
}

func (d *Directory) Get(ctx context.Context, id string) (domain.Practitioner, error) {
	if p, ok := d.cache.Get(id); ok {
		return p, nil
	}

	p, err := d.inner.Get(ctx, id)
	if err != nil {
		// Misses are not cached: a practitioner created moments later
		// should be visible immediately.
		return domain.Practitioner{}, err
	}

	d.cache.Add(id, p)
	return p, nil
}

// Invalidate drops one entry, for callers that mutate the directory.
func (d *Directory) Invalidate(id string) {
	d.cache.Remove(id)
}
