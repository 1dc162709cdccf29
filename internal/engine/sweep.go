package engine

import (
	"context"
	"time"
)

// staleBindingAge is how long an unattached binding may sit before the
// sweeper collects it.
const staleBindingAge = time.Hour

// Sweep deletes expired lobbies and stale unattached session bindings. Each
// lobby is taken under the same lock as live operations, so a sweep never
// deletes a lobby mid-transition. Failures are logged and retried on the next
// scheduled sweep.
func (e *Engine) Sweep(ctx context.Context) {
	now := e.clock.Now()
	codes, err := e.store.ExpiredLobbyCodes(ctx, now)
	if err != nil {
		e.logger.WithError(err).Warn("sweep: list expired lobbies")
		return
	}

	swept := 0
	for _, code := range codes {
		lock := e.lobbyLock(code)
		lock.Lock()
		// Re-check under the lock; the lobby may be gone or refreshed.
		lobby, err := e.store.GetLobby(ctx, code)
		if err == nil && lobby.ExpiresAt.Before(now) {
			if err := e.store.DeleteLobby(ctx, code); err != nil {
				e.logger.WithField("lobby", code).WithError(err).Warn("sweep: delete expired lobby")
			} else {
				e.sessions.UnbindLobby(code)
				e.gateway.CloseRoom(code)
				e.record(ctx, code, "lobby_expired", "", nil)
				swept++
			}
		}
		lock.Unlock()
	}

	orphans := e.sessions.SweepStale(staleBindingAge, now)
	if swept > 0 || orphans > 0 {
		e.logger.WithField("lobbies", swept).WithField("bindings", orphans).Info("sweep completed")
	}
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.Sweep(ctx)
		}
	}
}
