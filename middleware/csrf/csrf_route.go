package csrf

import (
	"time"

	"github.com/goliatone/go-router"
)

// RouteConfig controls the token bootstrap endpoint.
type RouteConfig struct {
	Path string
	// ContextKey must match the middleware's Config.ContextKey.
	ContextKey string
	RouteName  string
}

const (
	defaultRoutePath = "/csrf"
	defaultRouteName = "alumni.csrf.get"
)

// RegisterRoutes mounts GET /csrf. The browser reads the token once per
// session and sends it back on every form post; expires_at tells it when to
// fetch a new one.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, tokenHandler(conf)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		RouteName:  defaultRouteName,
	}
	if len(cfg) == 0 {
		return conf
	}
	if cfg[0].Path != "" {
		conf.Path = cfg[0].Path
	}
	if cfg[0].ContextKey != "" {
		conf.ContextKey = cfg[0].ContextKey
	}
	if cfg[0].RouteName != "" {
		conf.RouteName = cfg[0].RouteName
	}
	return conf
}

func tokenHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		token, _ := ctx.Locals(cfg.ContextKey).(string)
		if token == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]any{
				"error": ErrTokenMissing.Error(),
			})
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		ctx.SetHeader("Pragma", "no-cache")

		body := map[string]any{
			"token":       token,
			"field_name":  localString(ctx, cfg.ContextKey+"_field", DefaultFormFieldName),
			"header_name": localString(ctx, cfg.ContextKey+"_header", DefaultHeaderName),
		}
		if expiresAt, ok := ctx.Locals(cfg.ContextKey + "_expires").(time.Time); ok {
			body["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
		}
		return ctx.JSON(router.StatusOK, body)
	}
}

func localString(ctx router.Context, key, fallback string) string {
	if v, ok := ctx.Locals(key).(string); ok && v != "" {
		return v
	}
	return fallback
}
