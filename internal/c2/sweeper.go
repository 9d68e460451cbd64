package c2

import (
	"context"
	"log/slog"
	"time"

	"github.com/secchiware/secchiware/internal/events"
	"github.com/secchiware/secchiware/internal/store"
)

// livenessBackoff is the retry schedule for a single liveness probe of a
// Node before the C2 gives up and closes its session: one entry per attempt
// (three attempts). After each failed attempt except the last, checkOne
// waits that attempt's entry, so the waits are 1s and then 2s. Grounded on the teacher's automation/runner.go polling
// loop shape (poll, sleep, retry), adapted from "keep polling forever" to
// "give up after a bounded backoff".
var livenessBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Sweeper periodically checks every active Node is still reachable, closing
// sessions for ones that are not, per spec §4.5.
type Sweeper struct {
	server   *Server
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(s *Server, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{server: s, interval: interval, logger: logger}
}

// Run blocks, sweeping on interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	sessions, err := sw.server.store.ListSessions(ctx, store.Filter{})
	if err != nil {
		sw.logger.Warn("sweeper: failed to list sessions", slog.String("error", err.Error()))
		return
	}
	for _, sess := range sessions {
		if !sess.Active() {
			continue
		}
		sess := sess
		go sw.checkOne(ctx, sess.EnvIP, sess.EnvPort, sess.ID)
	}
}

func (sw *Sweeper) checkOne(ctx context.Context, ip string, port int, sessionID int64) {
	var lastErr error
	for attempt, backoff := range livenessBackoff {
		res, err := sw.server.forwardToNode(ctx, ip, port, "GET", "/test_sets", "", nil)
		if err == nil && res.Status < 500 {
			return
		}
		lastErr = err
		if attempt < len(livenessBackoff)-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}

	sw.logger.Warn("sweeper: node unreachable after retries, closing session",
		slog.String("ip", ip), slog.Int("port", port), slog.Int64("session_id", sessionID))

	err := sw.server.active.WithLock(ctx, ip, port, func() error {
		if _, err := sw.server.store.CloseSession(ctx, ip, port); err != nil {
			return err
		}
		return sw.server.active.Delete(ctx, ip, port)
	})
	if err != nil {
		sw.logger.Warn("sweeper: failed to close unreachable session", slog.String("error", err.Error()))
		return
	}
	sw.server.events.Publish(ctx, events.EnvironmentClosed, map[string]interface{}{
		"ip": ip, "port": port, "session_id": sessionID, "reason": "liveness_check_failed", "last_error": errString(lastErr),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
