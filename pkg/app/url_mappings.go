package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osvaldoandrade/tokengate/internal/controllers"
	"github.com/osvaldoandrade/tokengate/internal/middleware"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Tokens.Validating, app.Keys).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var authorizer controllers.Authorizer
	if app.Authorizer != nil {
		authorizer = app.Authorizer
	}

	v1 := app.Engine.Group("/v1")
	{
		v1.POST("/authorize",
			middleware.RateLimitAuthorize(app.RateLimiter, app.Config.RateLimit.Authorize),
			controllers.NewAuthorizeController(authorizer).Handle)
		v1.POST("/tokens/decode", controllers.NewDecodeTokensController(app.Tokens).Handle)

		v1.GET("/keys", controllers.NewListKeysController(app.Keys).Handle)
		v1.POST("/keys/refresh",
			middleware.RateLimitKeyRefresh(app.RateLimiter, app.Config.RateLimit.KeyRefresh),
			controllers.NewRefreshKeysController(app.Keys).Handle)
	}
}
