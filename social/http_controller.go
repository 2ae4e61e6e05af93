package social

import (
	"net/http"
	"net/url"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-router"
)

// RouteRegistrar is the slice of router.Router the controller mounts on.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Controller serves the provider redirect and callback routes. It relies on
// the portal session middleware running first.
type Controller struct {
	SignIn *SignIn
	Logger alumni.Logger
	// LoginRoute receives failed sign ins with an error query parameter.
	LoginRoute string
}

// RegisterRoutes mounts the provider routes on r and returns the controller.
func RegisterRoutes(r RouteRegistrar, s *SignIn) *Controller {
	ctrl := &Controller{
		SignIn:     s,
		Logger:     s.logger,
		LoginRoute: alumni.RouteLogin,
	}

	r.Get("/auth/providers", ctrl.List).SetName("alumni.social.providers")
	r.Get("/auth/:provider/callback", ctrl.Callback).SetName("alumni.social.callback")
	r.Get("/auth/:provider", ctrl.Begin).SetName("alumni.social.begin")
	return ctrl
}

func (ctrl *Controller) List(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{"providers": ctrl.SignIn.Providers()})
}

func (ctrl *Controller) Begin(ctx router.Context) error {
	target, err := ctrl.SignIn.Begin(alumni.StorageFrom(ctx), ctx.Param("provider"))
	if err != nil {
		return ctrl.fail(ctx, err)
	}
	ctx.SetHeader("Cache-Control", "no-store")
	return ctx.Redirect(target, http.StatusFound)
}

func (ctrl *Controller) Callback(ctx router.Context) error {
	if denied := ctx.Query("error"); denied != "" {
		ctrl.Logger.Info("provider consent denied", "provider", ctx.Param("provider"), "error", denied)
		return ctrl.redirectLogin(ctx, "access_denied")
	}

	outcome, err := ctrl.SignIn.Complete(ctx.Context(), alumni.ClientFrom(ctx), ctx.Param("provider"), ctx.Query("code"), ctx.Query("state"))
	if err != nil {
		return ctrl.fail(ctx, err)
	}

	if store := alumni.SessionFrom(ctx); store != nil {
		if err := store.Refresh(ctx.Context()); err != nil {
			ctrl.Logger.Warn("session refresh after provider sign in failed", "error", err)
		}
	}
	return ctx.Redirect(outcome.Redirect, http.StatusFound)
}

func (ctrl *Controller) fail(ctx router.Context, err error) error {
	return ctrl.redirectLogin(ctx, string(alumni.KindOf(err)))
}

func (ctrl *Controller) redirectLogin(ctx router.Context, code string) error {
	return ctx.Redirect(ctrl.LoginRoute+"?"+url.Values{"error": {code}}.Encode(), http.StatusFound)
}
