package contracts

import (
	"context"

	"github.com/julienschmidt/httprouter"
)

// Handler mounts a group of routes on the shared router.
type Handler interface {
	RegisterRoutes(*httprouter.Router)
}

// Pinger reports whether a backing dependency can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}
