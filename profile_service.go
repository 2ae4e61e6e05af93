package alumni

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ErrProfileLocked is returned when an owner edits a reviewed profile
var ErrProfileLocked = goerrors.New("your profile was already reviewed and can no longer be edited", goerrors.CategoryAuthz).
	WithTextCode(string(KindForbidden)).
	WithCode(goerrors.CodeForbidden)

// Uploader stores binary assets and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
}

// ProfileEdit holds the owner editable fields.
type ProfileEdit struct {
	FirstName          string `form:"first_name" json:"first_name"`
	MiddleName         string `form:"middle_name" json:"middle_name"`
	LastName           string `form:"last_name" json:"last_name"`
	Suffix             string `form:"suffix" json:"suffix"`
	MobileNumber       string `form:"mobile_number" json:"mobile_number"`
	Course             string `form:"course" json:"course"`
	BatchYear          string `form:"batch_year" json:"batch_year"`
	StudentID          string `form:"student_id" json:"student_id"`
	VerificationAnswer string `form:"verification_answer" json:"verification_answer"`
}

// Validate checks the edit.
func (e ProfileEdit) Validate(region string) error {
	errs := validation.Errors{}
	mergeValidation(errs, PersonalInfo{
		FirstName:    e.FirstName,
		MiddleName:   e.MiddleName,
		LastName:     e.LastName,
		Suffix:       e.Suffix,
		Email:        "owner@placeholder.local",
		MobileNumber: e.MobileNumber,
	}.Validate(region))
	mergeValidation(errs, AcademicInfo{
		Course:    e.Course,
		BatchYear: e.BatchYear,
		StudentID: e.StudentID,
	}.Validate())
	mergeValidation(errs, validation.ValidateStruct(&e,
		validation.Field(&e.VerificationAnswer, validation.Required, validation.Length(1, 500)),
	))
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ProfileService serves the owner facing profile operations.
type ProfileService struct {
	profiles Profiles
	uploader Uploader
	region   string
	logger   Logger
}

// ProfileServiceOption customizes the service.
type ProfileServiceOption func(*ProfileService)

// WithAvatarUploader sets the avatar store.
func WithAvatarUploader(u Uploader) ProfileServiceOption {
	return func(s *ProfileService) {
		s.uploader = u
	}
}

// WithProfileServiceLogger sets the logger.
func WithProfileServiceLogger(logger Logger) ProfileServiceOption {
	return func(s *ProfileService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProfileRegion sets the phone region.
func WithProfileRegion(region string) ProfileServiceOption {
	return func(s *ProfileService) {
		if region != "" {
			s.region = strings.ToUpper(region)
		}
	}
}

// NewProfileService returns a ProfileService.
func NewProfileService(profiles Profiles, opts ...ProfileServiceOption) *ProfileService {
	s := &ProfileService{
		profiles: profiles,
		region:   DefaultPhoneRegion,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the profile of user.
func (s *ProfileService) Get(ctx context.Context, user *SessionUser) (*Profile, error) {
	if user == nil {
		return nil, ErrForbidden
	}
	return s.profiles.GetByID(ctx, user.ID)
}

// EditOwn applies edit to the profile of user while it is pending review.
func (s *ProfileService) EditOwn(ctx context.Context, user *SessionUser, edit ProfileEdit) (*Profile, error) {
	profile, err := s.Get(ctx, user)
	if err != nil {
		return nil, err
	}

	if profile.Status != StatusPending {
		return nil, ErrProfileLocked
	}

	if errs := fieldErrors(edit.Validate(s.region)); len(errs) > 0 {
		return nil, validationErr(errs)
	}

	mobile, err := NormalizeMobileNumber(edit.MobileNumber, s.region)
	if err != nil {
		mobile = strings.TrimSpace(edit.MobileNumber)
	}

	return s.profiles.UpdateFields(ctx, profile.ID, map[string]any{
		"first_name":          strings.TrimSpace(edit.FirstName),
		"middle_name":         strings.TrimSpace(edit.MiddleName),
		"last_name":           strings.TrimSpace(edit.LastName),
		"suffix":              strings.TrimSpace(edit.Suffix),
		"mobile_number":       mobile,
		"course":              strings.TrimSpace(edit.Course),
		"batch_year":          strings.TrimSpace(edit.BatchYear),
		"student_id":          strings.TrimSpace(edit.StudentID),
		"verification_answer": strings.TrimSpace(edit.VerificationAnswer),
	})
}

// UpdateAvatar uploads r and stores the resulting URL on the profile.
func (s *ProfileService) UpdateAvatar(ctx context.Context, user *SessionUser, filename string, r io.Reader) (*Profile, error) {
	if user == nil {
		return nil, ErrForbidden
	}
	if s.uploader == nil {
		return nil, goerrors.Wrap(ErrUnavailable, goerrors.CategoryOperation, "avatar uploads are not configured").
			WithTextCode(string(KindUnavailable))
	}

	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
	default:
		return nil, validationErr(map[string]string{"avatar": "must be an image"})
	}

	url, err := s.uploader.Upload(ctx, fmt.Sprintf("avatars/%s", user.ID), r)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "avatar upload failed").
			WithTextCode(string(KindUnavailable))
	}

	s.logger.Debug("avatar uploaded", "profile_id", user.ID, "url", url)
	return s.profiles.UpdateFields(ctx, user.ID, map[string]any{"avatar_url": url})
}
