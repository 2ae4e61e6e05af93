package alumni

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// OnboardingForm is completed by users who authenticated before having a
// profile. It carries no password.
type OnboardingForm struct {
	FirstName          string `form:"first_name" json:"first_name"`
	LastName           string `form:"last_name" json:"last_name"`
	MobileNumber       string `form:"mobile_number" json:"mobile_number"`
	Course             string `form:"course" json:"course"`
	BatchYear          string `form:"batch_year" json:"batch_year"`
	StudentID          string `form:"student_id" json:"student_id"`
	VerificationAnswer string `form:"verification_answer" json:"verification_answer"`
	Consent            bool   `form:"consent" json:"consent"`
}

// Validate checks the onboarding fields.
func (f OnboardingForm) Validate(region string) error {
	errs := validation.Errors{}
	mergeValidation(errs, validation.ValidateStruct(&f,
		validation.Field(&f.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&f.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&f.MobileNumber, validation.By(ValidateMobileNumber(region))),
	))
	mergeValidation(errs, AcademicInfo{
		Course:    f.Course,
		BatchYear: f.BatchYear,
		StudentID: f.StudentID,
	}.Validate())
	mergeValidation(errs, SecurityInfo{
		VerificationAnswer: f.VerificationAnswer,
		Consent:            f.Consent,
	}.ValidateAnswer())

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// PrefillOnboarding seeds names from identity metadata when present.
func PrefillOnboarding(metadata map[string]any) OnboardingForm {
	form := OnboardingForm{}
	if v, ok := metadata["first_name"].(string); ok {
		form.FirstName = v
	}
	if v, ok := metadata["last_name"].(string); ok {
		form.LastName = v
	}
	if form.FirstName == "" {
		if full, ok := metadata["full_name"].(string); ok {
			parts := strings.Fields(full)
			if len(parts) > 0 {
				form.FirstName = parts[0]
			}
			if len(parts) > 1 {
				form.LastName = strings.Join(parts[1:], " ")
			}
		}
	}
	return form
}

// Onboard upserts the profile of user from form with status
// pending_approval. Profiles already reviewed are left untouched.
func (w *RegistrationWorkflow) Onboard(ctx context.Context, user *SessionUser, form OnboardingForm) (*Profile, error) {
	if user == nil || user.ID == "" {
		return nil, ErrForbidden
	}

	if errs := fieldErrors(form.Validate(w.region)); len(errs) > 0 {
		return nil, validationErr(errs)
	}

	existing, err := w.profiles.GetByID(ctx, user.ID)
	switch {
	case err == nil:
		if existing.Status != StatusPending || existing.Role.IsStaff() {
			return nil, goerrors.Wrap(ErrInvalidTransition, goerrors.CategoryConflict, "profile already completed").
				WithTextCode(string(KindConflict)).
				WithMetadata(map[string]any{"profile_id": user.ID, "status": existing.Status})
		}
	case IsKind(err, KindNotFound):
		existing = nil
	default:
		return nil, err
	}

	mobile := strings.TrimSpace(form.MobileNumber)
	if mobile != "" {
		if normalized, err := NormalizeMobileNumber(mobile, w.region); err == nil {
			mobile = normalized
		}
	}

	profile := &Profile{
		ID:                 user.ID,
		FirstName:          strings.TrimSpace(form.FirstName),
		LastName:           strings.TrimSpace(form.LastName),
		Email:              strings.ToLower(strings.TrimSpace(user.Email)),
		MobileNumber:       mobile,
		Role:               RoleAlumni,
		Status:             StatusPending,
		Course:             strings.TrimSpace(form.Course),
		BatchYear:          strings.TrimSpace(form.BatchYear),
		StudentID:          strings.TrimSpace(form.StudentID),
		VerificationAnswer: strings.TrimSpace(form.VerificationAnswer),
	}
	if existing != nil {
		profile.MiddleName = existing.MiddleName
		profile.Suffix = existing.Suffix
		profile.AvatarURL = existing.AvatarURL
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.AvatarURL = user.AvatarURL
	}

	if err := w.profiles.Upsert(ctx, profile); err != nil {
		return nil, err
	}

	recordActivity(ctx, w.activitySink, w.logger, w.now, ActivityEvent{
		EventType: ActivityEventOnboardingCompleted,
		Actor:     ActorFromUser(user),
		ProfileID: profile.ID,
		ToStatus:  StatusPending,
	})

	return profile, nil
}
