// Package registry owns handle records and the address reverse index. It is
// the only writer of either, and it never updates or deletes a record.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/model"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

// ErrNotFound is returned when no record exists for a handle.
var ErrNotFound = errors.New("handle not found")

// ClaimResult is the outcome of a claim attempt that reached the store.
type ClaimResult int

const (
	// Created means this call wrote the record.
	Created ClaimResult = iota + 1
	// AlreadyClaimed means another record was there first.
	AlreadyClaimed
)

func (r ClaimResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// Registry maps normalized handles to their records.
type Registry struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Registry on store.
func New(store storage.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// HandleKey is the store key of a handle record.
func HandleKey(normalized string) string {
	return "handle:" + normalized
}

// AddressKey is the store key of an address's reverse index set.
func AddressKey(address string) string {
	return "address:" + strings.ToLower(address) + ":handles"
}

// Claim writes rec under normalized if nothing is there yet. Exactly one of
// any number of concurrent claims for the same handle gets Created. The
// reverse index is updated afterwards on a best-effort basis; a failure there
// leaves the claim standing.
func (r *Registry) Claim(ctx context.Context, normalized string, rec model.HandleRecord) (ClaimResult, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}
	ok, err := r.store.SetIfAbsent(ctx, HandleKey(normalized), payload, 0)
	if err != nil {
		return 0, fmt.Errorf("claim %q: %w", normalized, err)
	}
	if !ok {
		return AlreadyClaimed, nil
	}

	if err := r.store.AddToSet(ctx, AddressKey(rec.OwnerAddress), normalized); err != nil {
		r.logger.Warn("reverse index update failed", "handle", normalized, "owner", rec.OwnerAddress, "error", err)
	}
	return Created, nil
}

// Lookup returns the record for normalized, or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, normalized string) (model.HandleRecord, error) {
	payload, err := r.store.Get(ctx, HandleKey(normalized))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.HandleRecord{}, ErrNotFound
		}
		return model.HandleRecord{}, fmt.Errorf("lookup %q: %w", normalized, err)
	}
	var rec model.HandleRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return model.HandleRecord{}, fmt.Errorf("decode record %q: %w", normalized, err)
	}
	return rec, nil
}

// Exists reports whether normalized has been claimed.
func (r *Registry) Exists(ctx context.Context, normalized string) (bool, error) {
	_, err := r.store.Get(ctx, HandleKey(normalized))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("exists %q: %w", normalized, err)
	}
}

// HandlesOf lists the handles claimed by address, sorted.
func (r *Registry) HandlesOf(ctx context.Context, address string) ([]string, error) {
	handles, err := r.store.SetMembers(ctx, AddressKey(address))
	if err != nil {
		return nil, fmt.Errorf("handles of %s: %w", address, err)
	}
	sort.Strings(handles)
	return handles, nil
}
