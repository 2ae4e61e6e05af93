package alumni

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-alumni/baas"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// RegistrationDraftKey is the client storage key holding the wizard draft.
const RegistrationDraftKey = "alumni.registration.draft"

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// DefaultPhoneRegion is used to parse mobile numbers without country code.
const DefaultPhoneRegion = "PH"

// RegistrationStep is a wizard position.
type RegistrationStep int

const (
	StepPersonal RegistrationStep = iota + 1
	StepAcademic
	StepSecurity
	StepSubmitted
)

func (s RegistrationStep) String() string {
	switch s {
	case StepPersonal:
		return "personal"
	case StepAcademic:
		return "academic"
	case StepSecurity:
		return "security"
	case StepSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// PersonalInfo is collected on the first step.
type PersonalInfo struct {
	FirstName    string `form:"first_name" json:"first_name"`
	MiddleName   string `form:"middle_name" json:"middle_name"`
	LastName     string `form:"last_name" json:"last_name"`
	Suffix       string `form:"suffix" json:"suffix"`
	Email        string `form:"email" json:"email"`
	MobileNumber string `form:"mobile_number" json:"mobile_number"`
}

// AcademicInfo is collected on the second step.
type AcademicInfo struct {
	Course    string `form:"course" json:"course"`
	BatchYear string `form:"batch_year" json:"batch_year"`
	StudentID string `form:"student_id" json:"student_id"`
}

// SecurityInfo is collected on the last step. Passwords are never written
// to drafts.
type SecurityInfo struct {
	VerificationAnswer string `form:"verification_answer" json:"verification_answer"`
	Password           string `form:"password" json:"-"`
	ConfirmPassword    string `form:"confirm_password" json:"-"`
	Consent            bool   `form:"consent" json:"consent"`
}

// Registration is the state of one registration wizard.
type Registration struct {
	Step     RegistrationStep  `json:"step"`
	Personal PersonalInfo      `json:"personal"`
	Academic AcademicInfo      `json:"academic"`
	Security SecurityInfo      `json:"security"`
	Errors   map[string]string `json:"-"`
}

// NewRegistration returns a wizard on the first step.
func NewRegistration() *Registration {
	return &Registration{Step: StepPersonal, Errors: map[string]string{}}
}

// FieldErrors is a validation failure with per field messages.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	return strings.Join(parts, "; ")
}

// Next validates the current step and advances on success. On failure the
// wizard stays and Errors holds exactly the failing fields.
func (r *Registration) Next(region string) error {
	var err error
	switch r.Step {
	case StepPersonal:
		err = r.Personal.Validate(region)
	case StepAcademic:
		err = r.Academic.Validate()
	case StepSecurity:
		return nil
	default:
		return nil
	}

	r.Errors = fieldErrors(err)
	if len(r.Errors) > 0 {
		return validationErr(r.Errors)
	}
	if err != nil {
		return err
	}

	r.Step++
	return nil
}

// Back moves to the previous step without validation.
func (r *Registration) Back() {
	if r.Step > StepPersonal && r.Step < StepSubmitted {
		r.Step--
	}
	r.Errors = map[string]string{}
}

// Validate checks the personal step.
func (p PersonalInfo) Validate(region string) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.MiddleName, validation.Length(0, 100)),
		validation.Field(&p.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Suffix, validation.Length(0, 20)),
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.MobileNumber, validation.Required, validation.By(ValidateMobileNumber(region))),
	)
}

// Validate checks the academic step.
func (a AcademicInfo) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Course, validation.Required, validation.Length(1, 200)),
		validation.Field(&a.BatchYear, validation.Required, validation.By(validateBatchYear)),
		validation.Field(&a.StudentID, validation.Required, validation.Length(1, 50)),
	)
}

// Validate checks the security step including the password pair.
func (s SecurityInfo) Validate() error {
	errs := validation.Errors{}
	mergeValidation(errs, s.ValidateAnswer())
	// Password fields are keyed by hand, their json tags hide them.
	mergeValidation(errs, validation.Errors{
		"password": validation.Validate(s.Password,
			validation.Required, validation.Length(MinPasswordLength, 100)),
		"confirm_password": validation.Validate(s.ConfirmPassword,
			validation.Required, validation.By(ValidateStringEquals(s.Password))),
	}.Filter())
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func mergeValidation(dst validation.Errors, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for k, v := range verrs {
			dst[k] = v
		}
	}
}

// ValidateAnswer checks the fields shared with onboarding.
func (s SecurityInfo) ValidateAnswer() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.VerificationAnswer, validation.Required, validation.Length(1, 500)),
		validation.Field(&s.Consent, validation.By(validateConsent)),
	)
}

// ValidateStringEquals checks a value equals str.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidateMobileNumber checks the value parses as a valid number in region.
func ValidateMobileNumber(region string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		if _, err := NormalizeMobileNumber(s, region); err != nil {
			return errors.New("must be a valid mobile number")
		}
		return nil
	}
}

// NormalizeMobileNumber parses raw and formats it as E.164.
func NormalizeMobileNumber(raw, region string) (string, error) {
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validateBatchYear(value interface{}) error {
	s, _ := value.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	year, err := strconv.Atoi(s)
	if err != nil || len(s) != 4 {
		return errors.New("must be a four digit year")
	}
	if year < 1900 || year > time.Now().Year()+1 {
		return errors.New("must be a plausible graduation year")
	}
	return nil
}

func validateConsent(value interface{}) error {
	if ok, _ := value.(bool); !ok {
		return errors.New("consent is required")
	}
	return nil
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
	}
	return out
}

func validationErr(fields map[string]string) error {
	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	return goerrors.Wrap(FieldErrors(fields), goerrors.CategoryValidation, "please correct the highlighted fields").
		WithTextCode(string(KindValidation)).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(meta)
}

// FieldErrorsOf extracts field level messages from err.
func FieldErrorsOf(err error) map[string]string {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		if src, ok := rich.Source.(FieldErrors); ok {
			return src
		}
	}
	return fieldErrors(err)
}

// RegistrationWorkflow submits wizards and onboarding forms.
type RegistrationWorkflow struct {
	profiles     Profiles
	admin        baas.AuthAdmin
	activitySink ActivitySink
	logger       Logger
	region       string
	now          func() time.Time
}

// RegistrationOption customizes the workflow.
type RegistrationOption func(*RegistrationWorkflow)

// WithRegistrationAdmin enables removing the identity when the profile
// insert fails.
func WithRegistrationAdmin(admin baas.AuthAdmin) RegistrationOption {
	return func(w *RegistrationWorkflow) {
		w.admin = admin
	}
}

// WithRegistrationActivitySink sets the activity sink.
func WithRegistrationActivitySink(sink ActivitySink) RegistrationOption {
	return func(w *RegistrationWorkflow) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

// WithRegistrationLogger sets the logger.
func WithRegistrationLogger(logger Logger) RegistrationOption {
	return func(w *RegistrationWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithPhoneRegion sets the default region for mobile numbers.
func WithPhoneRegion(region string) RegistrationOption {
	return func(w *RegistrationWorkflow) {
		if region != "" {
			w.region = strings.ToUpper(region)
		}
	}
}

// NewRegistrationWorkflow returns a workflow writing to profiles.
func NewRegistrationWorkflow(profiles Profiles, opts ...RegistrationOption) *RegistrationWorkflow {
	w := &RegistrationWorkflow{
		profiles:     profiles,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		region:       DefaultPhoneRegion,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Region is the default phone region.
func (w *RegistrationWorkflow) Region() string {
	return w.region
}

// Next advances reg, see Registration.Next.
func (w *RegistrationWorkflow) Next(reg *Registration) error {
	return reg.Next(w.region)
}

// Submit creates the identity and the pending profile. Any failure leaves
// reg on the security step. When the profile insert fails the new identity
// is deleted and the error kind is partial_submission.
func (w *RegistrationWorkflow) Submit(ctx context.Context, client baas.AuthClient, reg *Registration) (*Profile, error) {
	if reg.Step != StepSecurity {
		return nil, goerrors.Wrap(ErrInvalidInput, goerrors.CategoryValidation, "registration is not on the final step").
			WithTextCode(string(KindValidation))
	}

	// earlier steps may have been edited through Back
	errs := fieldErrors(reg.Personal.Validate(w.region))
	for k, v := range fieldErrors(reg.Academic.Validate()) {
		errs[k] = v
	}
	for k, v := range fieldErrors(reg.Security.Validate()) {
		errs[k] = v
	}
	reg.Errors = errs
	if len(errs) > 0 {
		return nil, validationErr(errs)
	}

	mobile, err := NormalizeMobileNumber(reg.Personal.MobileNumber, w.region)
	if err != nil {
		mobile = strings.TrimSpace(reg.Personal.MobileNumber)
	}

	email := strings.ToLower(strings.TrimSpace(reg.Personal.Email))
	identity, err := client.SignUp(ctx, email, reg.Security.Password, map[string]any{
		"role": string(RoleAlumni),
	})
	if err != nil {
		if baas.HasTextCode(err, baas.TextCodeEmailTaken) {
			reg.Errors = map[string]string{"email": "is already registered"}
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "an account with this email already exists").
				WithTextCode(string(KindConflict)).
				WithCode(goerrors.CodeConflict)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, ErrUnavailable.Message).
			WithTextCode(string(KindUnavailable)).
			WithCode(ErrUnavailable.Code)
	}

	profile := &Profile{
		ID:                 identity.ID,
		FirstName:          strings.TrimSpace(reg.Personal.FirstName),
		MiddleName:         strings.TrimSpace(reg.Personal.MiddleName),
		LastName:           strings.TrimSpace(reg.Personal.LastName),
		Suffix:             strings.TrimSpace(reg.Personal.Suffix),
		Email:              email,
		MobileNumber:       mobile,
		Role:               RoleAlumni,
		Status:             StatusPending,
		Course:             strings.TrimSpace(reg.Academic.Course),
		BatchYear:          strings.TrimSpace(reg.Academic.BatchYear),
		StudentID:          strings.TrimSpace(reg.Academic.StudentID),
		VerificationAnswer: strings.TrimSpace(reg.Security.VerificationAnswer),
		CreatedAt:          w.now(),
	}

	if err := w.profiles.Insert(ctx, profile); err != nil {
		w.compensate(ctx, identity, err)
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, ErrPartialSubmission.Message).
			WithTextCode(string(KindPartialSubmission)).
			WithCode(ErrPartialSubmission.Code).
			WithMetadata(map[string]any{"identity_id": identity.ID})
	}

	reg.Step = StepSubmitted
	reg.Security.Password = ""
	reg.Security.ConfirmPassword = ""
	reg.Errors = map[string]string{}

	recordActivity(ctx, w.activitySink, w.logger, w.now, ActivityEvent{
		EventType: ActivityEventRegistrationSubmit,
		Actor:     ActorRef{ID: profile.ID, Type: "user", Role: RoleAlumni},
		ProfileID: profile.ID,
		ToStatus:  StatusPending,
	})

	return profile, nil
}

func (w *RegistrationWorkflow) compensate(ctx context.Context, identity *baas.Identity, cause error) {
	if w.admin == nil {
		w.logger.Error("profile insert failed, orphaned identity left behind",
			"identity_id", identity.ID,
			"error", cause,
		)
		return
	}

	if err := w.admin.DeleteIdentity(ctx, identity.ID); err != nil {
		w.logger.Error("failed to remove orphaned identity",
			"identity_id", identity.ID,
			"error", err,
			"cause", cause,
		)
		return
	}

	w.logger.Warn("profile insert failed, orphaned identity removed",
		"identity_id", identity.ID,
		"error", cause,
	)
	recordActivity(ctx, w.activitySink, w.logger, w.now, ActivityEvent{
		EventType: ActivityEventRegistrationOrphan,
		ProfileID: identity.ID,
		Metadata:  map[string]any{"error": cause.Error()},
	})
}

// SaveDraft writes reg to kv without passwords.
func (w *RegistrationWorkflow) SaveDraft(kv baas.KeyValue, reg *Registration) {
	if kv == nil || reg == nil {
		return
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		w.logger.Warn("failed to encode registration draft", "error", err)
		return
	}
	kv.Set(RegistrationDraftKey, string(raw))
}

// LoadDraft returns the stored draft or a fresh wizard.
func (w *RegistrationWorkflow) LoadDraft(kv baas.KeyValue) *Registration {
	reg := NewRegistration()
	if kv == nil {
		return reg
	}
	raw, ok := kv.Get(RegistrationDraftKey)
	if !ok || raw == "" {
		return reg
	}
	if err := json.Unmarshal([]byte(raw), reg); err != nil {
		w.logger.Debug("discarding unreadable registration draft", "error", err)
		return NewRegistration()
	}
	if reg.Step < StepPersonal || reg.Step > StepSubmitted {
		reg.Step = StepPersonal
	}
	reg.Errors = map[string]string{}
	return reg
}

// ClearDraft removes the stored draft.
func (w *RegistrationWorkflow) ClearDraft(kv baas.KeyValue) {
	if kv != nil {
		kv.Remove(RegistrationDraftKey)
	}
}
