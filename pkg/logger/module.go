package logger

import "go.uber.org/fx"

// Module provides the process-wide slog.Logger and HTTP access logger.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)
