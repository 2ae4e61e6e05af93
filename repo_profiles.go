package alumni

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// Profiles is the data access layer for the profiles table.
type Profiles interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	Insert(ctx context.Context, profile *Profile) error
	Upsert(ctx context.Context, profile *Profile) error
	UpdateStatus(ctx context.Context, id string, status Status, opts ...StatusUpdateOption) (*Profile, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) (*Profile, error)
	ListByStatus(ctx context.Context, status Status) ([]Profile, error)
	ListByIDs(ctx context.Context, ids ...string) ([]Profile, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	Delete(ctx context.Context, id string) error
}

// StatusUpdateOption customizes UpdateStatus.
type StatusUpdateOption func(fields map[string]any)

// WithRejectionReason stores reason alongside a status change. Empty reasons
// clear any previous one.
func WithRejectionReason(reason string) StatusUpdateOption {
	return func(fields map[string]any) {
		fields["rejection_reason"] = strings.TrimSpace(reason)
	}
}

type profiles struct {
	db  baas.Database
	now func() time.Time
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository returns a Profiles backed by db.
func NewProfilesRepository(db baas.Database) Profiles {
	return &profiles{db: db, now: time.Now}
}

func (r *profiles) GetByID(ctx context.Context, id string) (*Profile, error) {
	record := &Profile{}
	err := r.db.From(ProfilesTable).
		Select("*").
		Eq("id", id).
		Single(ctx, record)
	if err != nil {
		return nil, classifyStoreErr(err, "id", id)
	}
	return record, nil
}

func (r *profiles) Insert(ctx context.Context, profile *Profile) error {
	profile.EnsureDefaults()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = r.now()
	}
	if err := r.db.From(ProfilesTable).Insert(ctx, profile); err != nil {
		return classifyStoreErr(err, "id", profile.ID)
	}
	return nil
}

func (r *profiles) Upsert(ctx context.Context, profile *Profile) error {
	profile.EnsureDefaults()
	now := r.now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = &now
	if err := r.db.From(ProfilesTable).Upsert(ctx, profile, "id"); err != nil {
		return classifyStoreErr(err, "id", profile.ID)
	}
	return nil
}

func (r *profiles) UpdateStatus(ctx context.Context, id string, status Status, opts ...StatusUpdateOption) (*Profile, error) {
	fields := map[string]any{"status": string(status)}
	for _, opt := range opts {
		if opt != nil {
			opt(fields)
		}
	}
	return r.UpdateFields(ctx, id, fields)
}

func (r *profiles) UpdateFields(ctx context.Context, id string, fields map[string]any) (*Profile, error) {
	if len(fields) == 0 {
		return r.GetByID(ctx, id)
	}

	fields["updated_at"] = r.now()

	affected, err := r.db.From(ProfilesTable).
		Update(fields).
		Eq("id", id).
		Execute(ctx)
	if err != nil {
		return nil, classifyStoreErr(err, "id", id)
	}

	if affected == 0 {
		return nil, errors.Wrap(ErrProfileNotFound, errors.CategoryNotFound, fmt.Sprintf("profile %s not found", id)).
			WithTextCode(string(KindNotFound))
	}

	return r.GetByID(ctx, id)
}

func (r *profiles) ListByStatus(ctx context.Context, status Status) ([]Profile, error) {
	var records []Profile
	err := r.db.From(ProfilesTable).
		Select("*").
		Eq("status", string(status)).
		Order("created_at", false).
		Execute(ctx, &records)
	if err != nil {
		return nil, classifyStoreErr(err, "status", status)
	}
	return records, nil
}

func (r *profiles) ListByIDs(ctx context.Context, ids ...string) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	var records []Profile
	err := r.db.From(ProfilesTable).
		Select("*").
		In("id", values...).
		Execute(ctx, &records)
	if err != nil {
		return nil, classifyStoreErr(err, "ids", ids)
	}
	return records, nil
}

func (r *profiles) CountByStatus(ctx context.Context, status Status) (int, error) {
	n, err := r.db.From(ProfilesTable).Count(ctx, baas.Eq("status", string(status)))
	if err != nil {
		return 0, classifyStoreErr(err, "status", status)
	}
	return n, nil
}

func (r *profiles) Delete(ctx context.Context, id string) error {
	affected, err := r.db.From(ProfilesTable).
		Delete().
		Eq("id", id).
		Execute(ctx)
	if err != nil {
		return classifyStoreErr(err, "id", id)
	}
	if affected == 0 {
		return errors.Wrap(ErrProfileNotFound, errors.CategoryNotFound, fmt.Sprintf("profile %s not found", id)).
			WithTextCode(string(KindNotFound))
	}
	return nil
}

// classifyStoreErr converts platform errors into workflow errors.
func classifyStoreErr(err error, key string, value any) error {
	switch {
	case err == nil:
		return nil
	case baas.IsNoRows(err):
		return errors.Wrap(err, errors.CategoryNotFound, ErrProfileNotFound.Message).
			WithTextCode(string(KindNotFound)).
			WithCode(errors.CodeNotFound).
			WithMetadata(map[string]any{key: value})
	case baas.HasTextCode(err, baas.TextCodeMultipleRows):
		return errors.Wrap(err, errors.CategoryConflict, ErrDuplicateProfile.Message).
			WithTextCode(string(KindConflict)).
			WithCode(errors.CodeConflict).
			WithMetadata(map[string]any{key: value})
	case baas.HasTextCode(err, baas.TextCodeUnknownTable):
		return errors.Wrap(err, errors.CategoryInternal, "profiles table is not available").
			WithTextCode(string(KindInternal)).
			WithCode(errors.CodeInternal)
	default:
		return errors.Wrap(err, errors.CategoryOperation, ErrUnavailable.Message).
			WithTextCode(string(KindUnavailable)).
			WithCode(ErrUnavailable.Code).
			WithMetadata(map[string]any{key: value})
	}
}
