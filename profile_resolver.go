package alumni

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
)

// PlaceholderName is the display name of users without a profile row.
const PlaceholderName = "User"

type profileResolver struct {
	profiles Profiles
	logger   Logger
}

// ProfileResolverOption customizes the resolver.
type ProfileResolverOption func(*profileResolver)

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(logger Logger) ProfileResolverOption {
	return func(r *profileResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewProfileResolver returns a resolver reading from profiles.
func NewProfileResolver(profiles Profiles, opts ...ProfileResolverOption) ProfileResolver {
	r := &profileResolver{
		profiles: profiles,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve looks up the single profile for identityID. A missing profile is
// not an error: the caller gets a placeholder that needs onboarding.
// Duplicate rows and platform failures are returned as errors.
func (r *profileResolver) Resolve(ctx context.Context, identityID, email string) (*SessionUser, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, errors.New("identity id is required", errors.CategoryBadInput).
			WithTextCode(string(KindValidation)).
			WithCode(errors.CodeBadRequest)
	}

	profile, err := r.profiles.GetByID(ctx, identityID)
	if err != nil {
		if IsKind(err, KindNotFound) {
			r.logger.Debug("no profile for identity, onboarding required", "identity_id", identityID)
			return PlaceholderUser(identityID, email), nil
		}
		return nil, err
	}

	return SessionUserFromProfile(profile, email), nil
}

// SessionUserFromProfile builds the session view of profile.
func SessionUserFromProfile(p *Profile, email string) *SessionUser {
	role := p.Role
	if role == "" {
		role = RoleAlumni
	}
	if p.Email != "" {
		email = p.Email
	}
	return &SessionUser{
		ID:        p.ID,
		Email:     email,
		Name:      p.FullName(),
		Role:      role,
		Status:    p.Status,
		AvatarURL: p.AvatarURL,
	}
}

// PlaceholderUser is the minimal user for identities without a profile.
func PlaceholderUser(identityID, email string) *SessionUser {
	return &SessionUser{
		ID:              identityID,
		Email:           email,
		Name:            PlaceholderName,
		Role:            RoleAlumni,
		NeedsOnboarding: true,
	}
}

// FallbackUser is applied when the profile could not be fetched. The identity
// stays authenticated with the least privileged role.
func FallbackUser(identityID, email string) *SessionUser {
	return &SessionUser{
		ID:    identityID,
		Email: email,
		Name:  PlaceholderName,
		Role:  RoleAlumni,
	}
}
