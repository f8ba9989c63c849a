package geocode

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Waiter blocks until a request may be sent.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Gate spaces outbound requests to keyless public APIs. One Gate is shared by
// every client that talks to a rate-limited provider in the process.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate returns a Gate allowing rps requests per second with a burst of
// one. Non-positive rps defaults to 1.
func NewGate(rps float64) *Gate {
	if rps <= 0 {
		rps = 1
	}
	return &Gate{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next request slot or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "geocode: rate gate")
	}
	return nil
}
