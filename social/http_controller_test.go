package social_test

import (
	"net/http"
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/social"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestControllerCallbackConsentDenied(t *testing.T) {
	ctrl := &social.Controller{Logger: quietLogger{}, LoginRoute: alumni.RouteLogin}

	ctx := router.NewMockContext()
	ctx.ParamsM["provider"] = "google"
	ctx.QueriesM["error"] = "access_denied"

	var redirectURL string
	ctx.On("Redirect", mock.Anything, []int{http.StatusFound}).Run(func(args mock.Arguments) {
		redirectURL = args.String(0)
	}).Return(nil).Once()

	require.NoError(t, ctrl.Callback(ctx))
	require.Equal(t, alumni.RouteLogin+"?error=access_denied", redirectURL)
}

func TestControllerListProviders(t *testing.T) {
	signIn := social.NewSignIn(
		social.NewStateManager("alumni-test-signing-key-0123456789", time.Minute),
		nil,
		social.WithProvider(&fakeProvider{}),
		social.WithLogger(quietLogger{}),
	)
	ctrl := &social.Controller{SignIn: signIn, Logger: quietLogger{}, LoginRoute: alumni.RouteLogin}

	ctx := router.NewMockContext()
	var payload map[string]any
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]any)
	}).Return(nil).Once()

	require.NoError(t, ctrl.List(ctx))
	require.Equal(t, []string{"google"}, payload["providers"])
}
