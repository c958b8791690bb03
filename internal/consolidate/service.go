// Package consolidate drives one import batch: extract, derive the canonical
// key, look up or create the canonical identity, record presence, collect
// per-row errors. It also fronts the advisory duplicate and bridge queries
// used by reporting.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/bridge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate/entity"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/keys"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/merge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/similarity"
	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/utilities"
)

// sentinel errors for storage outcomes
var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey reports a unique-key violation on identity creation.
	// Recoverable: the orchestrator re-reads the now-existing identity and
	// proceeds as an update.
	ErrDuplicateKey = errors.New("duplicate identity key")
)

// Per-row error reason codes.
const (
	ReasonExtractionFailed = "extraction_failed"
	ReasonKeyNotDerivable  = "key_not_derivable"
	ReasonStorageError     = "storage_error"
)

// Store is the storage collaborator. Lookup and insert are treated as fast
// synchronous calls; create must report duplicate keys as ErrDuplicateKey so
// two racing imports cannot mint two identities for one key.
type Store interface {
	FindIdentityByKey(ctx context.Context, key string) (*entity.Identity, error)
	CreateIdentity(ctx context.Context, ident *entity.Identity) error
	UpdateIdentity(ctx context.Context, id string, patch entity.IdentityPatch) error
	ListIdentities(ctx context.Context) ([]entity.Identity, error)
	CreatePresence(ctx context.Context, p *entity.Presence) error
	FindPresence(ctx context.Context, identityID, sourceID, importID string) (*entity.Presence, error)
	SaveRawRecord(ctx context.Context, row schema.Row) error
	// RawRowsFor returns the raw rows of one identity restricted to one
	// source, used by the duplicate-merge pass.
	RawRowsFor(ctx context.Context, identityKey, sourceID string) ([]schema.Row, error)
	// MarkRecordMerged annotates a losing raw record after arbitration;
	// records are annotated, never deleted.
	MarkRecordMerged(ctx context.Context, ref, survivorRef string, at time.Time) error
}

// RowError is one structured per-row failure. A failed row is skipped and the
// batch continues; the caller decides whether a high error rate fails the
// batch.
type RowError struct {
	Index   int    `json:"index"`
	Ref     string `json:"ref,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// RankedIdentity is an existing identity scored against incoming attributes.
type RankedIdentity struct {
	Identity entity.Identity `json:"identity"`
	Score    float64         `json:"score"`
}

// DuplicateAdvisory surfaces suspected duplicates found while creating a new
// identity. Advisory only: creation is never blocked.
type DuplicateAdvisory struct {
	RowRef     string           `json:"rowRef"`
	PrimaryKey string           `json:"primaryKey"`
	Candidates []RankedIdentity `json:"candidates"`
}

// Result summarizes one processed import batch.
type Result struct {
	Processed  int                 `json:"processed"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Errors     []RowError          `json:"errors,omitempty"`
	Advisories []DuplicateAdvisory `json:"advisories,omitempty"`
}

// Config carries the orchestrator's knobs.
type Config struct {
	// DuplicateThreshold is the minimum attribute similarity for an
	// advisory duplicate candidate.
	DuplicateThreshold float64
}

// DefaultConfig flags candidates at 0.7 and above.
func DefaultConfig() Config {
	return Config{DuplicateThreshold: 0.7}
}

// Service is the consolidation orchestrator.
type Service struct {
	store      Store
	extractor  *schema.Extractor
	deriver    *keys.Deriver
	scorer     *similarity.Scorer
	arbitrator *merge.Arbitrator
	matcher    *bridge.Matcher
	logger     *zap.SugaredLogger
	cfg        Config
}

// NewService wires the orchestrator. matcher may be nil when bridge queries
// are not needed (e.g. pure ingest tooling).
func NewService(
	store Store,
	extractor *schema.Extractor,
	deriver *keys.Deriver,
	scorer *similarity.Scorer,
	arbitrator *merge.Arbitrator,
	matcher *bridge.Matcher,
	logger *zap.SugaredLogger,
	cfg Config,
) *Service {
	if cfg.DuplicateThreshold == 0 {
		cfg.DuplicateThreshold = DefaultConfig().DuplicateThreshold
	}
	return &Service{
		store:      store,
		extractor:  extractor,
		deriver:    deriver,
		scorer:     scorer,
		arbitrator: arbitrator,
		matcher:    matcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// ProcessImport consolidates one batch of rows from one source, strictly
// sequentially. Rows that cannot yield a key or carry none of firstName,
// lastName or email are rejected with a per-row error; the batch never
// aborts on a row.
func (s *Service) ProcessImport(ctx context.Context, importID, sourceID string, rows []schema.Row, desc *schema.Descriptor) (*Result, error) {
	res := &Result{}
	now := time.Now().UTC()

	for i := range rows {
		row := rows[i]
		row.SourceID = sourceID
		row.ImportID = importID
		if row.Ref == "" {
			row.Ref = utilities.NewKSUID()
		}
		if row.ImportedAt.IsZero() {
			row.ImportedAt = now
		}

		attrs := s.extractor.Extract(row, desc)
		if !attrs.Identifiable() {
			res.Errors = append(res.Errors, RowError{
				Index: i, Ref: row.Ref, Reason: ReasonExtractionFailed,
				Message: "row yields no usable identity attributes",
			})
			continue
		}
		key, err := s.deriver.Derive(attrs)
		if err != nil {
			res.Errors = append(res.Errors, RowError{
				Index: i, Ref: row.Ref, Reason: ReasonKeyNotDerivable,
				Message: err.Error(),
			})
			continue
		}
		attrs.PrimaryKey = key

		ident, created, advisory, err := s.lookupOrCreate(ctx, key, attrs, row.Ref)
		if err != nil {
			res.Errors = append(res.Errors, RowError{
				Index: i, Ref: row.Ref, Reason: ReasonStorageError,
				Message: err.Error(),
			})
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if advisory != nil {
			res.Advisories = append(res.Advisories, *advisory)
		}

		if err := s.recordPresence(ctx, ident, row); err != nil {
			res.Errors = append(res.Errors, RowError{
				Index: i, Ref: row.Ref, Reason: ReasonStorageError,
				Message: err.Error(),
			})
			continue
		}
		res.Processed++
	}

	if s.logger != nil {
		s.logger.Infow("import processed",
			"import_id", importID,
			"source_id", sourceID,
			"processed", res.Processed,
			"created", res.Created,
			"updated", res.Updated,
			"errors", len(res.Errors),
		)
	}
	return res, nil
}

// lookupOrCreate resolves an identity for a key, filling empty fields on an
// existing identity or creating a new one. A duplicate-key race on create is
// resolved by re-reading and proceeding as an update.
func (s *Service) lookupOrCreate(ctx context.Context, key string, attrs schema.AttributeSet, rowRef string) (*entity.Identity, bool, *DuplicateAdvisory, error) {
	ident, err := s.store.FindIdentityByKey(ctx, key)
	switch {
	case err == nil:
		return ident, false, nil, s.fillEmptyFields(ctx, ident, attrs)
	case !errors.Is(err, ErrNotFound):
		return nil, false, nil, fmt.Errorf("find identity %q: %w", key, err)
	}

	// Score without the freshly derived key: no existing identity can share
	// it, and the mismatch would drown out real attribute overlap.
	probe := attrs
	probe.PrimaryKey = ""
	var advisory *DuplicateAdvisory
	if candidates, derr := s.FindPotentialDuplicates(ctx, probe); derr == nil && len(candidates) > 0 {
		advisory = &DuplicateAdvisory{RowRef: rowRef, PrimaryKey: key, Candidates: candidates}
		if s.logger != nil {
			s.logger.Warnw("possible duplicate identity",
				"primary_key", key,
				"candidates", len(candidates),
				"top_score", candidates[0].Score,
			)
		}
	}

	now := time.Now().UTC()
	ident = &entity.Identity{
		ID:          utilities.NewKSUID(),
		PrimaryKey:  key,
		FirstName:   attrs.FirstName,
		LastName:    attrs.LastName,
		Email:       attrs.Email,
		Username:    attrs.Username,
		DisplayName: attrs.DisplayName,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.CreateIdentity(ctx, ident)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost a create race; the identity exists now.
		ident, err = s.store.FindIdentityByKey(ctx, key)
		if err != nil {
			return nil, false, nil, fmt.Errorf("re-read identity %q after conflict: %w", key, err)
		}
		return ident, false, advisory, s.fillEmptyFields(ctx, ident, attrs)
	}
	if err != nil {
		return nil, false, nil, fmt.Errorf("create identity %q: %w", key, err)
	}
	return ident, true, advisory, nil
}

// fillEmptyFields patches only the fields the stored identity is missing;
// populated fields are never overwritten.
func (s *Service) fillEmptyFields(ctx context.Context, ident *entity.Identity, attrs schema.AttributeSet) error {
	var patch entity.IdentityPatch
	if ident.FirstName == "" && attrs.FirstName != "" {
		patch.FirstName = attrs.FirstName
		ident.FirstName = attrs.FirstName
	}
	if ident.LastName == "" && attrs.LastName != "" {
		patch.LastName = attrs.LastName
		ident.LastName = attrs.LastName
	}
	if ident.Email == "" && attrs.Email != "" {
		patch.Email = attrs.Email
		ident.Email = attrs.Email
	}
	if ident.Username == "" && attrs.Username != "" {
		patch.Username = attrs.Username
		ident.Username = attrs.Username
	}
	if ident.DisplayName == "" && attrs.DisplayName != "" {
		patch.DisplayName = attrs.DisplayName
		ident.DisplayName = attrs.DisplayName
	}
	if patch.Zero() {
		return nil
	}
	if err := s.store.UpdateIdentity(ctx, ident.ID, patch); err != nil {
		return fmt.Errorf("update identity %s: %w", ident.ID, err)
	}
	return nil
}

// recordPresence persists the raw record and links it to the identity,
// unless a presence already exists for (identity, source, import) — then an
// advisory log is emitted instead of a second row.
func (s *Service) recordPresence(ctx context.Context, ident *entity.Identity, row schema.Row) error {
	if err := s.store.SaveRawRecord(ctx, row); err != nil {
		return fmt.Errorf("save raw record %s: %w", row.Ref, err)
	}
	existing, err := s.store.FindPresence(ctx, ident.ID, row.SourceID, row.ImportID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("find presence: %w", err)
	}
	if existing != nil {
		if s.logger != nil {
			s.logger.Infow("presence already recorded",
				"identity_id", ident.ID,
				"source_id", row.SourceID,
				"import_id", row.ImportID,
			)
		}
		return nil
	}
	seen := row.ImportedAt
	p := &entity.Presence{
		ID:           utilities.NewKSUID(),
		IdentityID:   ident.ID,
		SourceID:     row.SourceID,
		ImportID:     row.ImportID,
		RawRecordRef: row.Ref,
		Active:       true,
		LastSeenAt:   &seen,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreatePresence(ctx, p); err != nil {
		return fmt.Errorf("create presence: %w", err)
	}
	return nil
}

// FindPotentialDuplicates scores the attributes against every stored
// identity and returns the candidates at or above the configured threshold,
// best first. Advisory only.
func (s *Service) FindPotentialDuplicates(ctx context.Context, attrs schema.AttributeSet) ([]RankedIdentity, error) {
	idents, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	var out []RankedIdentity
	for _, ident := range idents {
		score := s.scorer.AttributeSimilarity(attrs, identityAttrs(ident))
		if score >= s.cfg.DuplicateThreshold {
			out = append(out, RankedIdentity{Identity: ident, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// FindBridgeDatasets lists the sources usable as identifier bridges.
func (s *Service) FindBridgeDatasets(ctx context.Context) ([]bridge.Dataset, error) {
	return s.matcher.FindBridgeDatasets(ctx)
}

// FindCrossSourceMatches links one identity's identifiers across sources
// through every known bridge.
func (s *Service) FindCrossSourceMatches(ctx context.Context, identityKey string) (*bridge.Report, error) {
	bridges, err := s.matcher.FindBridgeDatasets(ctx)
	if err != nil {
		return nil, err
	}
	return s.matcher.FindCrossSourceMatches(ctx, identityKey, bridges)
}

// MergeRecords arbitrates a set of same-entity rows without side effects.
func (s *Service) MergeRecords(rows []schema.Row, primaryKey string) (*merge.Result, error) {
	return s.arbitrator.Merge(rows, primaryKey)
}

// MergeSourceDuplicates merges all raw rows one source holds for one
// identity key: the most recent record survives, the rest are annotated as
// merged into it. Conflicts are reported, never fatal.
func (s *Service) MergeSourceDuplicates(ctx context.Context, identityKey, sourceID string) (*merge.Result, error) {
	rows, err := s.store.RawRowsFor(ctx, identityKey, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load raw rows for %q in %q: %w", identityKey, sourceID, err)
	}
	if len(rows) < 2 {
		return nil, merge.ErrNoRecords
	}
	result, err := s.arbitrator.Merge(rows, identityKey)
	if err != nil {
		return nil, err
	}

	survivor := rows[0]
	for _, r := range rows[1:] {
		if r.EffectiveImportTime().After(survivor.EffectiveImportTime()) {
			survivor = r
		}
	}
	now := time.Now().UTC()
	for _, r := range rows {
		if r.Ref == survivor.Ref {
			continue
		}
		if err := s.store.MarkRecordMerged(ctx, r.Ref, survivor.Ref, now); err != nil {
			return nil, fmt.Errorf("annotate merged record %s: %w", r.Ref, err)
		}
	}
	if s.logger != nil {
		s.logger.Infow("source duplicates merged",
			"identity_key", identityKey,
			"source_id", sourceID,
			"records", len(rows),
			"survivor", survivor.Ref,
			"conflicts", len(result.Conflicts),
		)
	}
	return result, nil
}

func identityAttrs(ident entity.Identity) schema.AttributeSet {
	return schema.AttributeSet{
		PrimaryKey:  ident.PrimaryKey,
		FirstName:   ident.FirstName,
		LastName:    ident.LastName,
		Email:       ident.Email,
		Username:    ident.Username,
		DisplayName: ident.DisplayName,
	}
}
