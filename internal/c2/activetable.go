package c2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/broker"
)

// ActiveEntry is the cache-resident record of a live node, per spec §3's
// ActiveEnvironmentEntry.
type ActiveEntry struct {
	SessionID    int64              `json:"session_id"`
	SessionStart time.Time          `json:"session_start"`
	Platform     store.PlatformInfo `json:"platform"`
}

const activeTableTTL = 24 * time.Hour

func activeKey(ip string, port int) string {
	return fmt.Sprintf("environments:%s:%d", ip, port)
}

func lockName(ip string, port int) string {
	return fmt.Sprintf("environments:%s:%d:mutex", ip, port)
}

// ActiveTable wraps the broker with the typed get/set/delete operations the
// active-node table needs, plus the per-(ip,port) mutex spec §4.4 requires
// around every write.
type ActiveTable struct {
	b broker.Broker
}

func NewActiveTable(b broker.Broker) *ActiveTable {
	return &ActiveTable{b: b}
}

func (t *ActiveTable) Get(ctx context.Context, ip string, port int) (*ActiveEntry, bool, error) {
	raw, ok, err := t.b.Get(ctx, activeKey(ip, port))
	if err != nil || !ok {
		return nil, ok, err
	}
	var e ActiveEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false, fmt.Errorf("activetable: decoding entry: %w", err)
	}
	return &e, true, nil
}

func (t *ActiveTable) Set(ctx context.Context, ip string, port int, e ActiveEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.b.Set(ctx, activeKey(ip, port), string(raw), activeTableTTL)
}

func (t *ActiveTable) Delete(ctx context.Context, ip string, port int) error {
	return t.b.Delete(ctx, activeKey(ip, port))
}

// WithLock runs fn while holding the (ip,port) mutex, retrying acquisition
// briefly since this guards short critical sections (table read-modify-write).
func (t *ActiveTable) WithLock(ctx context.Context, ip string, port int, fn func() error) error {
	name := lockName(ip, port)
	var token string
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		token, err = t.b.Acquire(ctx, name, 5*time.Second)
		if err == nil {
			break
		}
		if err != broker.ErrNotAcquired || time.Now().After(deadline) {
			return fmt.Errorf("activetable: acquiring lock %q: %w", name, err)
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer t.b.Release(ctx, name, token)
	return fn()
}
