package pgxsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgxlisten"
	"go.uber.org/zap"
)

// DefaultEvictionChannel is the channel an EvictionNotifier listens on when
// none is given.
const DefaultEvictionChannel = "connpool_evict"

// EvictAll is the payload that soft-evicts every registered pool.
const EvictAll = "*"

// Evictable is a pool that can be soft-evicted by name.
type Evictable interface {
	Name() string
	SoftEvict()
	AddCloseHook(func() error)
}

// EvictionNotifier soft-evicts registered pools when a notification names
// them on its channel.
type EvictionNotifier struct {
	channel  string
	listener *pgxlisten.Listener
	logger   *zap.Logger

	mu    sync.RWMutex
	pools map[string]Evictable
}

var _ pgxlisten.Handler = (*EvictionNotifier)(nil)

// NewEvictionNotifier returns a notifier that listens on channel with its
// own connection built from config.
func NewEvictionNotifier(config *pgx.ConnConfig, channel string, logger *zap.Logger) *EvictionNotifier {
	if channel == "" {
		channel = DefaultEvictionChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.Copy()
	n := &EvictionNotifier{
		channel: channel,
		logger:  logger.With(zap.String("channel", channel)),
		pools:   make(map[string]Evictable),
	}
	n.listener = &pgxlisten.Listener{
		Connect: func(ctx context.Context) (*pgx.Conn, error) {
			return pgx.ConnectConfig(ctx, config.Copy())
		},
		LogError: func(_ context.Context, err error) {
			n.logger.Warn("eviction listener error", zap.Error(err))
		},
	}
	n.listener.Handle(channel, n)
	return n
}

// Channel returns the channel the notifier listens on.
func (n *EvictionNotifier) Channel() string { return n.channel }

// Listen listens until ctx is done. It reconnects on connection loss.
func (n *EvictionNotifier) Listen(ctx context.Context) error {
	return n.listener.Listen(ctx)
}

// HandleNotification implements the pgxlisten.Handler interface.
func (n *EvictionNotifier) HandleNotification(_ context.Context, notification *pgconn.Notification, _ *pgx.Conn) error {
	n.mu.RLock()
	var targets []Evictable
	if notification.Payload == EvictAll {
		for _, p := range n.pools {
			targets = append(targets, p)
		}
	} else if p, ok := n.pools[notification.Payload]; ok {
		targets = append(targets, p)
	}
	n.mu.RUnlock()

	if len(targets) == 0 {
		n.logger.Debug("eviction notice for unknown pool", zap.String("payload", notification.Payload))
		return nil
	}

	// Eviction closes idle sessions; run it off the listener goroutine.
	go func() {
		for _, p := range targets {
			n.logger.Info("soft evicting pool", zap.String("pool", p.Name()))
			p.SoftEvict()
		}
	}()
	return nil
}

// Register makes p a target of notifications carrying its name. The pool is
// unregistered when it closes.
func (n *EvictionNotifier) Register(p Evictable) error {
	name := p.Name()

	n.mu.Lock()
	if _, exists := n.pools[name]; exists {
		n.mu.Unlock()
		return fmt.Errorf("duplicate pool name: %s", name)
	}
	n.pools[name] = p
	n.mu.Unlock()

	p.AddCloseHook(func() error {
		n.Unregister(name)
		return nil
	})
	return nil
}

// Has reports whether a pool with the given name is registered.
func (n *EvictionNotifier) Has(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, exists := n.pools[name]
	return exists
}

// Unregister removes the named pool.
func (n *EvictionNotifier) Unregister(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.pools[name]; !exists {
		return false
	}
	delete(n.pools, name)
	return true
}

// Notify asks every notifier listening on channel to soft-evict the named
// pool, or every pool when name is EvictAll.
func Notify(ctx context.Context, conn *pgx.Conn, channel, name string) error {
	if _, err := conn.Exec(ctx, "SELECT pg_notify($1, $2)", channel, name); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}
