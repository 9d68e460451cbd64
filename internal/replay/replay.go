// Package replay implements the freshness-window and nonce-replay checks
// required by spec §4.1 for every signed request: a "timestamp" header
// within an operator-configured skew window, and at most one acceptance per
// signature within that window, tracked through the shared broker.
package replay

import (
	"context"
	"time"

	"github.com/secchiware/secchiware/pkg/broker"
	"github.com/secchiware/secchiware/pkg/signing"
)

// Window is the recommended freshness skew, per spec §4.1 ("recommended ±5 min").
const Window = 5 * time.Minute

// Check parses timestamp as RFC3339, rejects it if outside Window of now,
// then increments the broker counter keyed on nonceKey (the request's
// signature) and rejects the request if it has already been seen.
func Check(ctx context.Context, brk broker.Broker, timestamp, nonceKey string) error {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return signing.NewVerifyError(signing.ErrMalformed, "invalid timestamp header")
	}
	if skew := time.Since(ts); skew > Window || skew < -Window {
		return signing.NewVerifyError(signing.ErrBadSignature, "stale timestamp")
	}

	n, err := brk.Incr(ctx, "nonce:"+nonceKey)
	if err != nil {
		return err
	}
	if n > 1 {
		return signing.NewVerifyError(signing.ErrBadSignature, "replayed request")
	}
	return nil
}
