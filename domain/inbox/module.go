package inbox

import (
	"go.uber.org/fx"
)

// Module provides the inter-agent inbox (C7).
var Module = fx.Module("inbox",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
