package alumni

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const (
	localsSession = "alumni.session"
	localsClient  = "alumni.client"
	localsStorage = "alumni.storage"
)

// RouteAuthenticator binds a session store to every request and gates
// protected routes.
type RouteAuthenticator struct {
	cfg            Config
	clients        ClientFactory
	resolver       ProfileResolver
	storage        SessionStorage
	guard          *RouteGuard
	cookieDuration time.Duration
	Logger         Logger
	ErrorHandler   func(c *fiber.Ctx, err error) error
}

// NewHTTPAuthenticator returns a RouteAuthenticator.
func NewHTTPAuthenticator(cfg Config, clients ClientFactory, resolver ProfileResolver, storage SessionStorage) *RouteAuthenticator {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = cfg.GetTokenExpiration()
	}

	if storage == nil {
		storage = NewMemoryStorage(cookieDuration)
	}

	a := &RouteAuthenticator{
		cfg:            cfg,
		clients:        clients,
		resolver:       resolver,
		storage:        storage,
		cookieDuration: cookieDuration,
		Logger:         defLogger{},
		guard: NewRouteGuard(
			WithGuardLoginRoute(cfg.GetLoginRoute()),
			WithSecondFactor(cfg.GetRequireSecondFactor()),
		),
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

// Guard returns the route guard used by the middleware.
func (a *RouteAuthenticator) Guard() *RouteGuard {
	return a.guard
}

// SessionMiddleware loads the session of the calling browser. The store is
// closed once the handler chain returns.
func (a *RouteAuthenticator) SessionMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies(a.cfg.GetSessionCookieName())
		if _, err := uuid.Parse(sid); err != nil {
			sid = uuid.NewString()
		}
		a.setSessionCookie(c, sid)

		kv := a.storage.Storage(sid)
		client := a.clients.NewClient(kv)
		store := NewSessionStore(client, a.resolver, WithSessionStoreLogger(a.Logger))
		defer store.Close()

		if err := store.Initialize(c.UserContext()); err != nil {
			a.Logger.Warn("session initialization failed", "path", c.Path(), "error", err)
		}

		c.Locals(localsSession, store)
		c.Locals(localsClient, client)
		c.Locals(localsStorage, kv)
		return c.Next()
	}
}

// Protect admits only the listed roles. No roles admits any authenticated user.
func (a *RouteAuthenticator) Protect(allowed ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := SessionFrom(c)
		if store == nil {
			return a.ErrorHandler(c, ErrUnavailable)
		}
		return a.apply(c, a.guard.Check(store.State(), allowed...))
	}
}

// ProtectAlumni admits verified alumni that passed the account gates.
func (a *RouteAuthenticator) ProtectAlumni() fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := SessionFrom(c)
		if store == nil {
			return a.ErrorHandler(c, ErrUnavailable)
		}
		return a.apply(c, a.guard.CheckAlumni(store.State(), StorageFrom(c)))
	}
}

func (a *RouteAuthenticator) apply(c *fiber.Ctx, d Decision) error {
	switch d.Kind {
	case DecisionAllow:
		return c.Next()
	case DecisionWait:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "loading"})
	default:
		a.Logger.Debug("guard redirect", "path", c.Path(), "location", d.Location)
		return c.Redirect(d.Location, redirectStatus(c))
	}
}

// Logout clears the session of the calling browser.
func (a *RouteAuthenticator) Logout(c *fiber.Ctx) error {
	store := SessionFrom(c)
	if store == nil {
		return nil
	}
	return store.Logout(c.UserContext())
}

func (a *RouteAuthenticator) setSessionCookie(c *fiber.Ctx, sid string) {
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetSessionCookieName(),
		Value:    sid,
		Path:     "/",
		Expires:  time.Now().Add(a.cookieDuration),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	kind := KindOf(err)

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"request error",
		"path", c.Path(),
		"kind", kind,
		"error", richErr.Message,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	status := kind.StatusCode()
	body := fiber.Map{
		"error": fiber.Map{
			"kind":    kind,
			"message": richErr.Message,
		},
	}
	if fields := FieldErrorsOf(err); len(fields) > 0 {
		body["fields"] = fields
	}
	if status >= http.StatusInternalServerError && kind != KindUnavailable {
		body["error"] = fiber.Map{"kind": KindInternal, "message": "An unexpected server error occurred"}
	}
	return c.Status(status).JSON(body)
}

// LocalsContext is a request context carrying per request values. Both
// *fiber.Ctx and router.Context satisfy it.
type LocalsContext interface {
	Locals(key any, value ...any) any
}

// SessionFrom returns the session store bound by SessionMiddleware.
func SessionFrom(c LocalsContext) *SessionStore {
	store, _ := c.Locals(localsSession).(*SessionStore)
	return store
}

// ClientFrom returns the auth client bound by SessionMiddleware.
func ClientFrom(c LocalsContext) baas.AuthClient {
	client, _ := c.Locals(localsClient).(baas.AuthClient)
	return client
}

// StorageFrom returns the session key values bound by SessionMiddleware.
func StorageFrom(c LocalsContext) baas.KeyValue {
	kv, _ := c.Locals(localsStorage).(baas.KeyValue)
	return kv
}

// CurrentUser returns the resolved user or nil.
func CurrentUser(c LocalsContext) *SessionUser {
	if store := SessionFrom(c); store != nil {
		return store.User()
	}
	return nil
}

func redirectStatus(c *fiber.Ctx) int {
	if c.Method() == fiber.MethodGet {
		return fiber.StatusFound
	}
	return fiber.StatusSeeOther
}
