package csrf

import (
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTokenHandlerIncludesExpiry(t *testing.T) {
	handler := tokenHandler(routeConfigDefault())
	expires := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("PHT", 8*3600))

	ctx := router.NewMockContext()
	ctx.LocalsMock[DefaultContextKey] = "token123"
	ctx.LocalsMock[DefaultContextKey+"_expires"] = expires
	ctx.On("SetHeader", mock.Anything, mock.Anything).Return(ctx)

	var payload map[string]any
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil).Once()

	require.NoError(t, handler(ctx))
	require.Equal(t, "token123", payload["token"])
	require.Equal(t, DefaultFormFieldName, payload["field_name"])
	require.Equal(t, DefaultHeaderName, payload["header_name"])
	require.Equal(t, "2026-05-01T04:00:00Z", payload["expires_at"])
}

func TestTokenHandlerWithoutMiddleware(t *testing.T) {
	handler := tokenHandler(routeConfigDefault())

	ctx := router.NewMockContext()
	ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil).Once()

	require.NoError(t, handler(ctx))
	ctx.AssertNotCalled(t, "SetHeader", mock.Anything, mock.Anything)
}

func TestRouteConfigOverride(t *testing.T) {
	conf := routeConfigDefault(RouteConfig{Path: "/session/csrf"})
	require.Equal(t, "/session/csrf", conf.Path)
	require.Equal(t, DefaultContextKey, conf.ContextKey)
	require.Equal(t, defaultRouteName, conf.RouteName)
}
