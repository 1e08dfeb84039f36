package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/logging"
	goredis "github.com/redis/go-redis/v9"
)

const (
	leaseKeyPrefix   = "renopulse:actor:"
	heartbeatTimeout = 2 * time.Second
	maxClaimAttempts = 3
)

// renewLeaseScript extends a lease only while it still names us as owner.
// ARGV: [1]=owner, [2]=ttl_ms
var renewLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseLeaseScript deletes a lease only while it still names us as owner.
// ARGV: [1]=owner
var releaseLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// ErrLeaseLost is reported when a held lease expired or was taken over by another instance.
var ErrLeaseLost = errors.New("actor lease lost")

// Placement implements domain.Placement with one Redis lease per actor.
type Placement struct {
	rdb     *goredis.Client
	self    string
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *metrics.PlacementMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	held   map[domain.ActorID]struct{}
	onLost func(domain.ActorID)

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ domain.Placement = (*Placement)(nil)

// NewPlacement creates a placement advertising self (the base URL peers use to reach this
// instance). Call Start to begin renewing leases.
func NewPlacement(client *Client, self string, ttl time.Duration, clock clockwork.Clock, m *metrics.PlacementMetrics) *Placement {
	return &Placement{
		rdb:     client.rdb,
		self:    self,
		ttl:     ttl,
		clock:   clock,
		metrics: m,
		logger:  logging.Logger.With("component", "placement", "self", self),
		held:    make(map[domain.ActorID]struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnLost registers the callback invoked when a held lease can no longer be renewed.
func (p *Placement) OnLost(fn func(domain.ActorID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLost = fn
}

// Claim takes the lease for id if it is free and otherwise reports the current owner.
func (p *Placement) Claim(ctx context.Context, id domain.ActorID) (domain.Claim, error) {
	key := leaseKey(id)

	// The lease can expire between a failed SET NX and the GET; try again in that case.
	for range maxClaimAttempts {
		acquired, err := p.rdb.SetNX(ctx, key, p.self, p.ttl).Result()
		if err != nil {
			return domain.Claim{}, fmt.Errorf("claim lease %s: %w", id, err)
		}
		if acquired {
			p.hold(id)
			return domain.Claim{Local: true}, nil
		}

		owner, err := p.rdb.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return domain.Claim{}, fmt.Errorf("read lease owner %s: %w", id, err)
		}

		if owner == p.self {
			// Still ours from before a restart.
			if err := p.renew(ctx, id); err != nil {
				if errors.Is(err, ErrLeaseLost) {
					continue
				}
				return domain.Claim{}, err
			}
			p.hold(id)
			return domain.Claim{Local: true}, nil
		}
		return domain.Claim{Owner: owner}, nil
	}

	return domain.Claim{}, fmt.Errorf("claim lease %s: gave up after %d attempts", id, maxClaimAttempts)
}

// Release gives up the lease for id if we still own it.
func (p *Placement) Release(ctx context.Context, id domain.ActorID) error {
	p.mu.Lock()
	delete(p.held, id)
	p.mu.Unlock()

	if err := releaseLeaseScript.Run(ctx, p.rdb, []string{leaseKey(id)}, p.self).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", id, err)
	}
	return nil
}

// Owner returns the advertised URL holding the lease for id, or "" when nobody does.
func (p *Placement) Owner(ctx context.Context, id domain.ActorID) (string, error) {
	owner, err := p.rdb.Get(ctx, leaseKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease owner %s: %w", id, err)
	}
	return owner, nil
}

// Held returns the number of leases this instance is renewing.
func (p *Placement) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Start runs the heartbeat that renews every held lease each ttl/3.
func (p *Placement) Start() {
	go p.heartbeat()
}

// Stop ends the heartbeat. Leases are left to Release or to expiry.
func (p *Placement) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *Placement) heartbeat() {
	defer close(p.done)

	ticker := p.clock.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			p.renewAll()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Placement) renewAll() {
	p.mu.Lock()
	ids := make([]domain.ActorID, 0, len(p.held))
	for id := range p.held {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
		err := p.renew(ctx, id)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, ErrLeaseLost):
			p.lost(id)
		default:
			// Transient: the next heartbeat tries again while the lease is still valid.
			p.logger.Warn("Lease renewal failed", "actor_id", id.String(), "error", err)
		}
	}
}

func (p *Placement) renew(ctx context.Context, id domain.ActorID) error {
	renewed, err := renewLeaseScript.Run(ctx, p.rdb, []string{leaseKey(id)}, p.self, p.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", id, err)
	}
	if renewed == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (p *Placement) lost(id domain.ActorID) {
	p.mu.Lock()
	_, ok := p.held[id]
	delete(p.held, id)
	onLost := p.onLost
	p.mu.Unlock()

	// Released concurrently; nothing to evict.
	if !ok {
		return
	}

	p.metrics.LeaseLost()
	p.logger.Warn("Actor lease lost", "actor_id", id.String())
	if onLost != nil {
		onLost(id)
	}
}

func (p *Placement) hold(id domain.ActorID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[id] = struct{}{}
}

func leaseKey(id domain.ActorID) string {
	return leaseKeyPrefix + id.String()
}
