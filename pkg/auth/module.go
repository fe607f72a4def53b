package auth

import "go.uber.org/fx"

// Module provides the HTTP auth middleware and its supporting services.
var Module = fx.Module("auth",
	fx.Provide(
		NewUserProfileService,
		NewZitadelService,
		NewMiddleware,
	),
)
