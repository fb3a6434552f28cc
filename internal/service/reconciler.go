package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/repository"
)

// OutcomeKind is the result class of reconciling one record.
type OutcomeKind string

const (
	OutcomeCreated   OutcomeKind = "created"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome reports what Reconcile did with a record.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	InternalID string
}

func rejected(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: fmt.Sprintf(format, args...)}
}

// Reconciler merges raw records into the canonical store.
type Reconciler struct {
	repo  *repository.CanonicalRepository
	newID func() string
}

// NewReconciler creates a new Reconciler.
func NewReconciler(repo *repository.CanonicalRepository) *Reconciler {
	return &Reconciler{repo: repo, newID: uuid.NewString}
}

// Reconcile looks the record up and inserts, merges, or rejects it.
// The lookup and the write run in one transaction; a rejected record writes nothing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - raw: record produced by a source adapter.
//
// Returns:
//   - Outcome: created, updated, unchanged, or rejected with a reason.
//   - error: non-nil only for storage failures.
func (r *Reconciler) Reconcile(ctx context.Context, raw *domain.RawRecord) (Outcome, error) {
	if out, ok := precheck(raw); !ok {
		return out, nil
	}

	var out Outcome
	err := r.repo.WithTx(ctx, func(tx *repository.CanonicalRepository) error {
		var err error
		out, err = r.reconcileTx(ctx, tx, raw)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile %s %s: %w", raw.Kind, raw.Ref(), err)
	}

	if out.Kind == OutcomeRejected {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldEntityKind: raw.Kind,
			logger.FieldExternalID: raw.ExternalID,
			"reason":               out.Reason,
		}).Debug("Record rejected")
	}
	return out, nil
}

// precheck validates what can be checked without storage.
func precheck(raw *domain.RawRecord) (Outcome, bool) {
	if raw.Source != domain.DataSourceProvider && raw.Source != domain.DataSourceBulk {
		return rejected("unsupported source %q", raw.Source), false
	}
	schema := domain.Schema(raw.Kind)
	if schema == nil {
		return rejected("unknown entity kind %q", raw.Kind), false
	}
	if raw.Invalid != "" {
		return rejected("malformed value: %s", raw.Invalid), false
	}
	vals := raw.Values()
	for _, name := range schema.Fields {
		if err := domain.ValidateValue(raw.Kind, name, vals[name]); err != nil {
			return rejected("malformed value: %v", err), false
		}
	}
	if raw.ExternalID == "" {
		if schema.NaturalKeyOf(func(n string) string { return vals[n] }) == "" {
			return rejected("missing required field: %s", strings.Join(missing(schema.NaturalKey, vals), ", ")), false
		}
	}
	return Outcome{}, true
}

func missing(fields []string, vals map[string]string) []string {
	var out []string
	for _, f := range fields {
		if strings.TrimSpace(vals[f]) == "" {
			out = append(out, f)
		}
	}
	return out
}

func (r *Reconciler) reconcileTx(ctx context.Context, tx *repository.CanonicalRepository, raw *domain.RawRecord) (Outcome, error) {
	schema := domain.Schema(raw.Kind)
	incoming := raw.Values()
	naturalKey := schema.NaturalKeyOf(func(n string) string { return incoming[n] })

	existing, adopt, out, err := lookup(ctx, tx, raw, naturalKey)
	if err != nil || out.Kind == OutcomeRejected {
		return out, err
	}
	if existing == nil {
		return r.create(ctx, tx, raw, incoming)
	}
	return r.merge(ctx, tx, raw, existing, incoming, adopt)
}

// lookup finds the stored record by external id, falling back to the natural
// key. A natural-key match without an external id is adopted; one carrying a
// different external id is a conflict.
func lookup(ctx context.Context, tx *repository.CanonicalRepository, raw *domain.RawRecord, naturalKey string) (domain.Canonical, bool, Outcome, error) {
	if raw.ExternalID != "" {
		rec, err := tx.FindByExternalID(ctx, raw.Kind, raw.ExternalID)
		if err == nil {
			return rec, false, Outcome{}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, Outcome{}, err
		}
	}
	if naturalKey == "" {
		return nil, false, Outcome{}, nil
	}

	rec, err := tx.FindByNaturalKey(ctx, raw.Kind, naturalKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, Outcome{}, nil
	}
	if err != nil {
		return nil, false, Outcome{}, err
	}
	if raw.ExternalID == "" {
		return rec, false, Outcome{}, nil
	}
	if other := rec.Meta().GetExternalID(); other != "" {
		return nil, false, rejected("external id conflict: %s %q belongs to external id %s", raw.Kind, naturalKey, other), nil
	}
	return rec, true, Outcome{}, nil
}

func (r *Reconciler) create(ctx context.Context, tx *repository.CanonicalRepository, raw *domain.RawRecord, incoming map[string]string) (Outcome, error) {
	schema := domain.Schema(raw.Kind)
	if miss := missing(schema.Required, incoming); len(miss) > 0 {
		return rejected("missing required field: %s", strings.Join(miss, ", ")), nil
	}

	rec, err := domain.NewRecord(raw.Kind)
	if err != nil {
		return Outcome{}, err
	}
	meta := rec.Meta()
	meta.InternalID = r.newID()
	if raw.ExternalID != "" {
		ext := raw.ExternalID
		meta.ExternalID = &ext
	}
	meta.FieldSources = domain.FieldSources{}
	for _, name := range schema.Fields {
		v, ok := incoming[name]
		if !ok {
			continue
		}
		if err := rec.SetField(name, v); err != nil {
			return rejected("malformed value: %v", err), nil
		}
		meta.FieldSources[name] = raw.Source
	}
	if out, ok, err := resolveReferences(ctx, tx, rec); !ok || err != nil {
		return out, err
	}

	meta.NaturalKey = schema.NaturalKeyOf(rec.Field)
	meta.DataSource = raw.Source
	meta.Stamp(raw.Source, raw.ObservedAt)
	meta.PayloadHash = PayloadHash(rec)

	if _, err := tx.Upsert(ctx, rec); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeCreated, InternalID: meta.InternalID}, nil
}

func (r *Reconciler) merge(ctx context.Context, tx *repository.CanonicalRepository, raw *domain.RawRecord, rec domain.Canonical, incoming map[string]string, adopt bool) (Outcome, error) {
	schema := domain.Schema(raw.Kind)
	meta := rec.Meta()

	candidate := hashFields(schema.Fields, func(name string) string {
		if v, ok := incoming[name]; ok {
			return v
		}
		return rec.Field(name)
	})
	if candidate == meta.PayloadHash && !adopt {
		meta.Stamp(raw.Source, raw.ObservedAt)
		if _, err := tx.Upsert(ctx, rec); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeUnchanged, InternalID: meta.InternalID}, nil
	}

	if meta.FieldSources == nil {
		meta.FieldSources = domain.FieldSources{}
	}
	changed := adopt
	for _, name := range schema.Fields {
		v, ok := incoming[name]
		if !ok || !mayOverwrite(meta, name, raw) {
			continue
		}
		if rec.Field(name) != v {
			if err := rec.SetField(name, v); err != nil {
				return rejected("malformed value: %v", err), nil
			}
			changed = true
		}
		meta.FieldSources[name] = raw.Source
	}

	if !changed {
		meta.Stamp(raw.Source, raw.ObservedAt)
		if _, err := tx.Upsert(ctx, rec); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeUnchanged, InternalID: meta.InternalID}, nil
	}

	current := make(map[string]string, len(schema.Fields))
	for _, name := range schema.Fields {
		current[name] = rec.Field(name)
	}
	if miss := missing(schema.Required, current); len(miss) > 0 {
		return rejected("missing required field: %s", strings.Join(miss, ", ")), nil
	}
	if out, ok, err := resolveReferences(ctx, tx, rec); !ok || err != nil {
		return out, err
	}

	if adopt {
		ext := raw.ExternalID
		meta.ExternalID = &ext
	}
	meta.NaturalKey = schema.NaturalKeyOf(rec.Field)
	meta.DataSource = raw.Source
	meta.Stamp(raw.Source, raw.ObservedAt)
	meta.PayloadHash = PayloadHash(rec)

	if _, err := tx.Upsert(ctx, rec); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeUpdated, InternalID: meta.InternalID}, nil
}

// mayOverwrite applies source priority to one field. Provider data always
// wins. Bulk data observed strictly after the last provider sync may write any
// field. Older bulk data never touches a provider-owned record, and elsewhere
// only writes fields the provider never supplied.
func mayOverwrite(meta *domain.RecordMeta, field string, raw *domain.RawRecord) bool {
	if raw.Source == domain.DataSourceProvider {
		return true
	}
	if observedAfter(raw.ObservedAt, meta.ProviderSyncedAt) {
		return true
	}
	if meta.DataSource == domain.DataSourceProvider {
		return false
	}
	return meta.FieldSources[field] != domain.DataSourceProvider
}

// resolveReferences maps referenced external ids to internal ids.
func resolveReferences(ctx context.Context, tx *repository.CanonicalRepository, rec domain.Canonical) (Outcome, bool, error) {
	schema := domain.Schema(rec.Kind())
	if len(schema.References) == 0 {
		return Outcome{}, true, nil
	}
	referencing, ok := rec.(domain.Referencing)
	if !ok {
		return Outcome{}, true, nil
	}
	for _, field := range schema.Fields {
		refKind, isRef := schema.References[field]
		if !isRef {
			continue
		}
		ext := rec.Field(field)
		id, err := tx.ResolveExternalID(ctx, refKind, ext)
		if errors.Is(err, repository.ErrNotFound) {
			return rejected("unresolved reference: %s %q", field, ext), false, nil
		}
		if err != nil {
			return Outcome{}, false, err
		}
		referencing.SetReference(field, id)
	}
	return Outcome{}, true, nil
}

// observedAfter reports whether t is strictly after ref; nil ref counts as older.
func observedAfter(t time.Time, ref *time.Time) bool {
	return ref == nil || t.After(*ref)
}
