package alumni

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-print"
	"github.com/valyala/fasthttp"
)

const (
	maxAvatarSize     = 5 * 1024 * 1024
	maxMasterListSize = 10 * 1024 * 1024
)

// PortalController serves the portal routes.
type PortalController struct {
	Debug        bool
	Logger       Logger
	Auther       *RouteAuthenticator
	Login        *LoginFlow
	Registration *RegistrationWorkflow
	Approvals    *ApprovalWorkflow
	Profiles     *ProfileService
	MasterList   *MasterList
	CSRF         fiber.Handler
	KeepAlive    time.Duration
}

// PortalControllerOption customizes the controller.
type PortalControllerOption func(*PortalController) *PortalController

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		if logger != nil {
			pc.Logger = logger
		}
		return pc
	}
}

// WithControllerDebug dumps request payloads.
func WithControllerDebug(debug bool) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		pc.Debug = debug
		return pc
	}
}

// WithAuthenticator sets the session middleware provider.
func WithAuthenticator(a *RouteAuthenticator) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		pc.Auther = a
		return pc
	}
}

// WithWorkflows sets the workflows backing the routes.
func WithWorkflows(login *LoginFlow, reg *RegistrationWorkflow, approvals *ApprovalWorkflow, profiles *ProfileService, roster *MasterList) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		pc.Login = login
		pc.Registration = reg
		pc.Approvals = approvals
		pc.Profiles = profiles
		pc.MasterList = roster
		return pc
	}
}

// WithCSRF installs h after the session middleware on every route.
func WithCSRF(h fiber.Handler) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		pc.CSRF = h
		return pc
	}
}

// WithStreamKeepAlive sets the approval stream ping interval.
func WithStreamKeepAlive(d time.Duration) PortalControllerOption {
	return func(pc *PortalController) *PortalController {
		if d > 0 {
			pc.KeepAlive = d
		}
		return pc
	}
}

// NewPortalController returns a controller. It panics when a dependency is
// missing.
func NewPortalController(opts ...PortalControllerOption) *PortalController {
	pc := &PortalController{
		Logger:    defLogger{},
		KeepAlive: 25 * time.Second,
	}
	for _, opt := range opts {
		pc = opt(pc)
	}

	if pc.Auther == nil {
		panic("missing RouteAuthenticator in portal controller")
	}
	if pc.Login == nil || pc.Registration == nil || pc.Approvals == nil || pc.Profiles == nil || pc.MasterList == nil {
		panic("missing workflow in portal controller")
	}
	return pc
}

// RegisterPortalRoutes mounts every portal route on app.
func RegisterPortalRoutes(app fiber.Router, opts ...PortalControllerOption) *PortalController {
	pc := NewPortalController(opts...)
	a := pc.Auther

	app.Use(a.SessionMiddleware())
	if pc.CSRF != nil {
		app.Use(pc.CSRF)
	}

	app.Get(RouteLogin, pc.LoginShow)
	app.Post(RouteLogin, pc.LoginPost)
	app.Get(RouteLoginVerify, a.Protect(), pc.VerifyShow)
	app.Post(RouteLoginVerify, a.Protect(), pc.VerifyPost)
	app.Get("/logout", pc.LogOut)

	app.Get("/register", pc.RegistrationShow)
	app.Post("/register", pc.RegistrationNext)
	app.Post("/register/back", pc.RegistrationBack)
	app.Get(RouteRegistrationWait, a.Protect(), pc.RegistrationPending)

	app.Get(RouteOnboarding, a.Protect(), pc.OnboardingShow)
	app.Post(RouteOnboarding, a.Protect(), pc.OnboardingPost)

	// pending owners may still edit their profile
	app.Get("/alumni/profile", a.Protect(RoleAlumni), pc.ProfileShow)
	app.Post("/alumni/profile", a.Protect(RoleAlumni), pc.ProfileUpdate)
	app.Post("/alumni/profile/avatar", a.Protect(RoleAlumni), pc.AvatarUpload)

	app.Get(RouteAlumniDashboard, a.ProtectAlumni(), pc.AlumniDashboard)

	staff := a.Protect(RoleAdmin, RoleRegistrar, RoleSuperAdmin)
	app.Get(RouteAdminDashboard, staff, pc.AdminDashboard)
	app.Get("/admin/approvals", staff, pc.ApprovalList)
	app.Get("/admin/approvals/stream", staff, pc.ApprovalStream)
	app.Post("/admin/approvals/approve", staff, pc.ApprovalApproveMany)
	app.Post("/admin/approvals/:id/approve", staff, pc.ApprovalApprove)
	app.Post("/admin/approvals/:id/reject", staff, pc.ApprovalReject)
	app.Post("/admin/approvals/:id/status", staff, pc.ApprovalStatus)

	admins := a.Protect(RoleAdmin, RoleSuperAdmin)
	app.Delete("/admin/records/:id", admins, pc.RecordDelete)
	app.Post("/admin/master-list", admins, pc.MasterListUpload)

	super := a.Protect(RoleSuperAdmin)
	app.Get(RouteSuperAdminDashboad, super, pc.SuperAdminDashboard)
	app.Post("/superadmin/users/:id/role", super, pc.RoleUpdate)

	return pc
}

// LoginPayload is the sign in form.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// VerifyPayload is the second factor form.
type VerifyPayload struct {
	Code string `form:"code" json:"code"`
}

// RejectPayload carries the optional audit note.
type RejectPayload struct {
	Reason string `form:"reason" json:"reason"`
}

// BulkApprovePayload lists the profiles to verify at once.
type BulkApprovePayload struct {
	IDs []string `form:"ids" json:"ids"`
}

// StatusPayload is a manual status correction.
type StatusPayload struct {
	Status string `form:"status" json:"status"`
	Reason string `form:"reason" json:"reason"`
}

// RolePayload is a role change.
type RolePayload struct {
	Role string `form:"role" json:"role"`
}

func (pc *PortalController) LoginShow(c *fiber.Ctx) error {
	user := CurrentUser(c)
	body := fiber.Map{"user": user}
	if user != nil {
		body["redirect"] = user.Role.Landing()
	}
	return c.JSON(body)
}

func (pc *PortalController) LoginPost(c *fiber.Ctx) error {
	payload := LoginPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	outcome, err := pc.Login.SignIn(c.UserContext(), ClientFrom(c), payload.Email, payload.Password)
	if err != nil {
		return pc.fail(c, err)
	}

	if store := SessionFrom(c); store != nil {
		if err := store.Refresh(c.UserContext()); err != nil {
			pc.Logger.Warn("session refresh after login failed", "error", err)
		}
	}

	return c.JSON(fiber.Map{
		"user":      outcome.User,
		"redirect":  outcome.Redirect,
		"challenge": outcome.Challenge != nil,
	})
}

func (pc *PortalController) VerifyShow(c *fiber.Ctx) error {
	user := CurrentUser(c)
	return c.JSON(fiber.Map{
		"user":     user,
		"verified": SecondFactorPassed(StorageFrom(c), user.ID),
	})
}

func (pc *PortalController) VerifyPost(c *fiber.Ctx) error {
	payload := VerifyPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	redirect, err := pc.Login.VerifySecondFactor(c.UserContext(), ClientFrom(c), CurrentUser(c), payload.Code)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"redirect": redirect})
}

func (pc *PortalController) LogOut(c *fiber.Ctx) error {
	if err := pc.Auther.Logout(c); err != nil {
		pc.Logger.Error("logout failed", "error", err)
	}
	return c.Redirect(RouteLogin, fiber.StatusFound)
}

func (pc *PortalController) RegistrationShow(c *fiber.Ctx) error {
	reg := pc.Registration.LoadDraft(StorageFrom(c))
	return c.JSON(fiber.Map{
		"step":         reg.Step.String(),
		"registration": reg,
	})
}

// RegistrationNext binds the fields of the current step, then validates and
// advances. On the security step it submits.
func (pc *PortalController) RegistrationNext(c *fiber.Ctx) error {
	kv := StorageFrom(c)
	reg := pc.Registration.LoadDraft(kv)

	var target any
	switch reg.Step {
	case StepPersonal:
		target = &reg.Personal
	case StepAcademic:
		target = &reg.Academic
	case StepSecurity:
		target = &reg.Security
	default:
		return c.JSON(fiber.Map{"step": reg.Step.String(), "redirect": RouteRegistrationWait})
	}

	if err := c.BodyParser(target); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	if pc.Debug {
		fmt.Println(print.MaybePrettyJSON(reg))
	}

	if reg.Step != StepSecurity {
		err := pc.Registration.Next(reg)
		pc.Registration.SaveDraft(kv, reg)
		if err != nil {
			return pc.fail(c, err)
		}
		return c.JSON(fiber.Map{"step": reg.Step.String(), "registration": reg})
	}

	profile, err := pc.Registration.Submit(c.UserContext(), ClientFrom(c), reg)
	if err != nil {
		pc.Registration.SaveDraft(kv, reg)
		return pc.fail(c, err)
	}

	pc.Registration.ClearDraft(kv)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"step":     reg.Step.String(),
		"profile":  profile,
		"redirect": RouteLogin,
	})
}

func (pc *PortalController) RegistrationBack(c *fiber.Ctx) error {
	kv := StorageFrom(c)
	reg := pc.Registration.LoadDraft(kv)
	reg.Back()
	pc.Registration.SaveDraft(kv, reg)
	return c.JSON(fiber.Map{"step": reg.Step.String(), "registration": reg})
}

func (pc *PortalController) RegistrationPending(c *fiber.Ctx) error {
	user := CurrentUser(c)
	if user.Role == RoleAlumni && user.Status == StatusVerified {
		return c.Redirect(user.Role.Landing(), fiber.StatusFound)
	}
	return c.JSON(fiber.Map{"user": user, "status": user.Status})
}

func (pc *PortalController) OnboardingShow(c *fiber.Ctx) error {
	user := CurrentUser(c)
	if !user.NeedsOnboarding {
		return c.Redirect(user.Role.Landing(), fiber.StatusFound)
	}

	var metadata map[string]any
	if session, err := ClientFrom(c).CurrentSession(c.UserContext()); err == nil && session != nil {
		metadata = session.Identity.Metadata
	}
	return c.JSON(fiber.Map{"form": PrefillOnboarding(metadata)})
}

func (pc *PortalController) OnboardingPost(c *fiber.Ctx) error {
	form := OnboardingForm{}
	if err := c.BodyParser(&form); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	profile, err := pc.Registration.Onboard(c.UserContext(), CurrentUser(c), form)
	if err != nil {
		return pc.fail(c, err)
	}

	pc.refresh(c)
	return c.JSON(fiber.Map{"profile": profile, "redirect": RouteRegistrationWait})
}

func (pc *PortalController) AlumniDashboard(c *fiber.Ctx) error {
	user := CurrentUser(c)
	return c.JSON(fiber.Map{
		"user":       user,
		"navigation": user.Navigation().Items(),
	})
}

func (pc *PortalController) ProfileShow(c *fiber.Ctx) error {
	profile, err := pc.Profiles.Get(c.UserContext(), CurrentUser(c))
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"profile":  profile,
		"editable": profile.Status == StatusPending,
	})
}

func (pc *PortalController) ProfileUpdate(c *fiber.Ctx) error {
	edit := ProfileEdit{}
	if err := c.BodyParser(&edit); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	profile, err := pc.Profiles.EditOwn(c.UserContext(), CurrentUser(c), edit)
	if err != nil {
		return pc.fail(c, err)
	}

	pc.refresh(c)
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) AvatarUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("avatar")
	if err != nil {
		return pc.fail(c, validationErr(map[string]string{"avatar": "is required"}))
	}
	if file.Size > maxAvatarSize {
		return pc.fail(c, validationErr(map[string]string{"avatar": "is too large"}))
	}

	f, err := file.Open()
	if err != nil {
		return pc.fail(c, validationErr(map[string]string{"avatar": "cannot be read"}))
	}
	defer f.Close()

	profile, err := pc.Profiles.UpdateAvatar(c.UserContext(), CurrentUser(c), file.Filename, f)
	if err != nil {
		return pc.fail(c, err)
	}

	pc.refresh(c)
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) AdminDashboard(c *fiber.Ctx) error {
	stats, err := pc.Approvals.Stats(c.UserContext())
	if err != nil {
		return pc.fail(c, err)
	}
	user := CurrentUser(c)
	return c.JSON(fiber.Map{
		"user":       user,
		"stats":      stats,
		"navigation": user.Navigation().Items(),
	})
}

func (pc *PortalController) ApprovalList(c *fiber.Ctx) error {
	reviews, err := pc.Approvals.ListPendingReviews(c.UserContext())
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"pending": reviews})
}

// ApprovalStream pushes profile changes as server sent events until the
// client goes away.
func (pc *PortalController) ApprovalStream(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan baas.Change, 16)

	sub, err := pc.Approvals.Watch(ctx, func(change baas.Change) {
		select {
		case changes <- change:
		default:
			pc.Logger.Debug("approval stream lagging, change dropped", "type", change.Type)
		}
	})
	if err != nil {
		cancel()
		return pc.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	keepAlive := pc.KeepAlive
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		fmt.Fprint(w, "event: ready\ndata: {}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case change := <-changes:
				raw, err := json.Marshal(change)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", raw)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}

func (pc *PortalController) ApprovalApprove(c *fiber.Ctx) error {
	profile, err := pc.Approvals.Approve(c.UserContext(), CurrentUser(c), c.Params("id"))
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) ApprovalApproveMany(c *fiber.Ctx) error {
	payload := BulkApprovePayload{}
	if err := c.BodyParser(&payload); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	batch, err := pc.Approvals.ApproveMany(c.UserContext(), CurrentUser(c), payload.IDs...)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(batch)
}

func (pc *PortalController) ApprovalReject(c *fiber.Ctx) error {
	payload := RejectPayload{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return pc.fail(c, ErrInvalidInput)
		}
	}

	profile, err := pc.Approvals.Reject(c.UserContext(), CurrentUser(c), c.Params("id"), payload.Reason)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) ApprovalStatus(c *fiber.Ctx) error {
	payload := StatusPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	status, ok := ParseStatus(payload.Status)
	if !ok {
		return pc.fail(c, validationErr(map[string]string{"status": "is not a valid status"}))
	}

	profile, err := pc.Approvals.SetStatus(c.UserContext(), CurrentUser(c), c.Params("id"), status, payload.Reason)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) RecordDelete(c *fiber.Ctx) error {
	if err := pc.Approvals.DeleteRecord(c.UserContext(), CurrentUser(c), c.Params("id")); err != nil {
		return pc.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (pc *PortalController) MasterListUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return pc.fail(c, validationErr(map[string]string{"file": "is required"}))
	}
	if file.Size > maxMasterListSize {
		return pc.fail(c, validationErr(map[string]string{"file": "is too large"}))
	}

	f, err := file.Open()
	if err != nil {
		return pc.fail(c, validationErr(map[string]string{"file": "cannot be read"}))
	}
	defer f.Close()

	result, err := pc.MasterList.Import(c.UserContext(), CurrentUser(c), f)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(result)
}

func (pc *PortalController) SuperAdminDashboard(c *fiber.Ctx) error {
	stats, err := pc.Approvals.Stats(c.UserContext())
	if err != nil {
		return pc.fail(c, err)
	}
	user := CurrentUser(c)
	return c.JSON(fiber.Map{
		"user":       user,
		"stats":      stats,
		"roles":      GetAllRoles(),
		"navigation": user.Navigation().Items(),
	})
}

func (pc *PortalController) RoleUpdate(c *fiber.Ctx) error {
	payload := RolePayload{}
	if err := c.BodyParser(&payload); err != nil {
		return pc.fail(c, ErrInvalidInput)
	}

	role, ok := ParseRole(payload.Role)
	if !ok {
		return pc.fail(c, validationErr(map[string]string{"role": "is not a valid role"}))
	}

	profile, err := pc.Approvals.SetRole(c.UserContext(), CurrentUser(c), c.Params("id"), role)
	if err != nil {
		return pc.fail(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (pc *PortalController) refresh(c *fiber.Ctx) {
	if store := SessionFrom(c); store != nil {
		if err := store.Refresh(c.UserContext()); err != nil {
			pc.Logger.Warn("session refresh failed", "error", err)
		}
	}
}

func (pc *PortalController) fail(c *fiber.Ctx, err error) error {
	return pc.Auther.ErrorHandler(c, err)
}
