package retrieval

import (
	"go.uber.org/fx"
)

// Module provides the retrieval-score component of C1's State Store: the
// agent runtime posts retrieval batches after each step and recalls
// adaptive scores at recall time.
var Module = fx.Module("retrieval",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
