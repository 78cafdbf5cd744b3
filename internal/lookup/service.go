// Package lookup resolves handles to their public view. It is read-only and
// never exposes the signed message or signature stored with a claim.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/model"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
)

var (
	// ErrNotFound means the handle has not been claimed.
	ErrNotFound = errors.New("handle not found")
	// ErrInvalidAddress means a reverse lookup got a malformed address.
	ErrInvalidAddress = errors.New("invalid address")
)

// Reader is the read side of the registry.
type Reader interface {
	Lookup(ctx context.Context, normalized string) (model.HandleRecord, error)
	Exists(ctx context.Context, normalized string) (bool, error)
	HandlesOf(ctx context.Context, address string) ([]string, error)
}

// Service answers lookup queries.
type Service struct {
	reader Reader
}

// New creates a Service.
func New(reader Reader) *Service {
	return &Service{reader: reader}
}

// Resolve normalizes raw and returns the public view of its record.
func (s *Service) Resolve(ctx context.Context, raw string) (model.PublicView, error) {
	normalized := handle.Normalize(raw)
	if normalized == "" {
		return model.PublicView{}, ErrNotFound
	}
	rec, err := s.reader.Lookup(ctx, normalized)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return model.PublicView{}, ErrNotFound
		}
		return model.PublicView{}, fmt.Errorf("resolve: %w", err)
	}
	return rec.View(normalized), nil
}

// Available reports whether raw could still be claimed: it must be valid and
// unclaimed. The normalized form is returned alongside.
func (s *Service) Available(ctx context.Context, raw string) (string, bool, error) {
	normalized := handle.Normalize(raw)
	if err := handle.Validate(normalized); err != nil {
		return normalized, false, nil
	}
	exists, err := s.reader.Exists(ctx, normalized)
	if err != nil {
		return normalized, false, fmt.Errorf("availability: %w", err)
	}
	return normalized, !exists, nil
}

// HandlesOf returns the checksum form of address and the handles it owns.
func (s *Service) HandlesOf(ctx context.Context, address string) (string, []string, error) {
	owner, err := sigverify.ChecksumAddress(address)
	if err != nil {
		return "", nil, ErrInvalidAddress
	}
	handles, err := s.reader.HandlesOf(ctx, owner)
	if err != nil {
		return owner, nil, fmt.Errorf("reverse lookup: %w", err)
	}
	return owner, handles, nil
}
