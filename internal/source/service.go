// Package source manages the registry of ingestable datasets and their
// schema descriptors.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/entity"
	sourcerepo "github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/repo"
	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/utilities"
)

// ErrNotFound reports a source name with no registry entry.
var ErrNotFound = errors.New("source not found")

// Service encapsulates source registry logic on top of the repo.
type Service struct {
	repo *sourcerepo.SourceRepo
}

// NewService constructs a Service with the provided repository.
func NewService(r *sourcerepo.SourceRepo) *Service {
	return &Service{repo: r}
}

// Ensure returns the source with the given name, creating it (with the
// optional descriptor) when it does not exist yet.
func (s *Service) Ensure(ctx context.Context, name string, descriptor []byte) (*entity.Source, error) {
	src, err := s.repo.GetByName(ctx, name)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	src = &entity.Source{
		ID:         utilities.NewKSUID(),
		Name:       name,
		Descriptor: descriptor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create source %q: %w", name, err)
	}
	return src, nil
}

// Get returns a source by name or ErrNotFound.
func (s *Service) Get(ctx context.Context, name string) (*entity.Source, error) {
	src, err := s.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return src, nil
}

// List returns all registered sources.
func (s *Service) List(ctx context.Context) ([]entity.Source, error) {
	return s.repo.List(ctx)
}

// Descriptor decodes a source's stored schema descriptor. A source without
// one returns (nil, nil): extraction then falls back to column-name
// patterns.
func (s *Service) Descriptor(src *entity.Source) (*schema.Descriptor, error) {
	if src == nil || len(src.Descriptor) == 0 {
		return nil, nil
	}
	var desc schema.Descriptor
	if err := json.Unmarshal(src.Descriptor, &desc); err != nil {
		return nil, fmt.Errorf("decode descriptor of %q: %w", src.Name, err)
	}
	return &desc, nil
}
