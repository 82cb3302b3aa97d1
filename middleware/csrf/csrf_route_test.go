package csrf

import (
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTokenHandlerSuccess(t *testing.T) {
	handler := tokenHandler(routeConfigDefault())

	ctx := router.NewMockContext()
	ctx.LocalsMock[DefaultContextKey] = "token123"
	ctx.On("SetHeader", "Cache-Control", "no-store, max-age=0").Return(ctx)

	var payload map[string]string
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(1).(map[string]string)
	}).Return(nil).Once()

	require.NoError(t, handler(ctx))
	require.Equal(t, "token123", payload["token"])
	require.Equal(t, DefaultFormFieldName, payload["field_name"])
	require.Equal(t, DefaultHeaderName, payload["header_name"])
}

func TestTokenHandlerMissingToken(t *testing.T) {
	handler := tokenHandler(routeConfigDefault())

	ctx := router.NewMockContext()
	ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil).Once()

	require.NoError(t, handler(ctx))
	ctx.AssertExpectations(t)
}

func TestRouteConfigOverride(t *testing.T) {
	conf := routeConfigDefault(RouteConfig{
		Path:      "/custom-csrf",
		RouteName: "custom.csrf",
	})
	require.Equal(t, "/custom-csrf", conf.Path)
	require.Equal(t, DefaultContextKey, conf.ContextKey)
	require.Equal(t, "custom.csrf", conf.RouteName)
}
