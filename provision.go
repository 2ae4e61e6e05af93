package alumni

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-alumni/baas"
	goerrors "github.com/goliatone/go-errors"
)

// ProvisionInput describes an account created out of band.
type ProvisionInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
}

// Validate checks the input.
func (in ProvisionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&in.FirstName, validation.Required),
		validation.Field(&in.LastName, validation.Required),
		validation.Field(&in.Role, validation.Required, validation.By(func(v interface{}) error {
			if r, _ := v.(Role); !r.IsValid() {
				return errors.New("must be a valid role")
			}
			return nil
		})),
	)
}

// Provision creates an identity and its profile without the approval
// workflow. Staff accounts are created verified; alumni accounts too, since
// an operator vouches for them.
func Provision(ctx context.Context, admin baas.AuthAdmin, profiles Profiles, in ProvisionInput) (*Profile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if errs := fieldErrors(in.Validate()); len(errs) > 0 {
		return nil, validationErr(errs)
	}

	identity, err := admin.CreateIdentity(ctx, in.Email, in.Password, map[string]any{
		"role":       string(in.Role),
		"first_name": in.FirstName,
		"last_name":  in.LastName,
	})
	if err != nil {
		if baas.HasTextCode(err, baas.TextCodeEmailTaken) {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "an account with this email already exists").
				WithTextCode(string(KindConflict)).
				WithCode(goerrors.CodeConflict)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, ErrUnavailable.Message).
			WithTextCode(string(KindUnavailable))
	}

	profile := &Profile{
		ID:        identity.ID,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     in.Email,
		Role:      in.Role,
		Status:    StatusVerified,
		CreatedAt: time.Now(),
	}

	if err := profiles.Insert(ctx, profile); err != nil {
		if derr := admin.DeleteIdentity(ctx, identity.ID); derr != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, ErrPartialSubmission.Message).
				WithTextCode(string(KindPartialSubmission)).
				WithMetadata(map[string]any{"identity_id": identity.ID, "cleanup_error": derr.Error()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, ErrPartialSubmission.Message).
			WithTextCode(string(KindPartialSubmission))
	}
	return profile, nil
}
