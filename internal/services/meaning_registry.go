package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/store"
)

// MeaningRegistry caches the role meanings registered for the life of the
// process. Meanings are append-only.
type MeaningRegistry struct {
	store    *store.Store
	mu       sync.RWMutex
	meanings map[string]uuid.UUID
}

func NewMeaningRegistry(st *store.Store) *MeaningRegistry {
	return &MeaningRegistry{
		store:    st,
		meanings: make(map[string]uuid.UUID),
	}
}

// NormalizeMeaning casefolds a meaning label.
func NormalizeMeaning(meaning string) string {
	return strings.ToLower(strings.TrimSpace(meaning))
}

// Register persists a meaning and caches its id. Registering a meaning twice
// fails with MeaningRegisteredError unless suppress is set, in which case
// the existing id is returned untouched.
func (r *MeaningRegistry) Register(ctx context.Context, meaning string, suppress bool) (uuid.UUID, error) {
	meaning = NormalizeMeaning(meaning)
	if meaning == "" {
		return uuid.Nil, &models.InvalidMeaningError{Meaning: meaning}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.meanings[meaning]; ok {
		if !suppress {
			return uuid.Nil, &models.MeaningRegisteredError{Meaning: meaning}
		}
		return id, nil
	}

	// Another process may have stored the meaning since Load.
	row, created, err := r.store.CreateRoleMeaning(ctx, meaning)
	if err != nil {
		return uuid.Nil, err
	}
	r.meanings[meaning] = row.ID
	if !created && !suppress {
		return uuid.Nil, &models.MeaningRegisteredError{Meaning: meaning}
	}
	return row.ID, nil
}

// Load caches every meaning already stored, so meanings registered by an
// earlier process or the CLI are known before any command runs.
func (r *MeaningRegistry) Load(ctx context.Context) error {
	rows, err := r.store.RoleMeanings(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.meanings[row.Meaning] = row.ID
	}
	return nil
}

// RegisterBuiltins registers the verified and resident meanings.
func (r *MeaningRegistry) RegisterBuiltins(ctx context.Context) error {
	for _, m := range []string{models.MeaningVerified, models.MeaningResident} {
		if _, err := r.Register(ctx, m, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *MeaningRegistry) ID(meaning string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.meanings[NormalizeMeaning(meaning)]
	return id, ok
}

func (r *MeaningRegistry) Has(meaning string) bool {
	_, ok := r.ID(meaning)
	return ok
}

// Meanings returns the registered labels in sorted order.
func (r *MeaningRegistry) Meanings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.meanings))
	for m := range r.meanings {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
