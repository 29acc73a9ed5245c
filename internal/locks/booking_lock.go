// Package locks serializes validate-then-write booking sequences so two
// concurrent requests cannot double-book the same doctor and day.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitalmed/clinic-agenda/pkg/logging"
)

// ErrSlotBusy means another request holds the (doctor, date) lock.
var ErrSlotBusy = errors.New("locks: doctor/date is being booked by another request")

// BookingLock provides mutual exclusion scoped to one doctor and one civil
// date. With a Redis client the lock spans processes; without one a keyed
// in-process mutex covers single-instance deployments. The database's partial
// unique index remains the last-resort backstop either way.
type BookingLock struct {
	client   *redis.Client
	ttl      time.Duration
	waitFor  time.Duration
	retryGap time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	local map[string]chan struct{}
}

// NewBookingLock creates a booking lock. client may be nil.
func NewBookingLock(client *redis.Client, ttl time.Duration, logger *logging.Logger) *BookingLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingLock{
		client:   client,
		ttl:      ttl,
		waitFor:  2 * time.Second,
		retryGap: 50 * time.Millisecond,
		logger:   logger,
		local:    make(map[string]chan struct{}),
	}
}

// Key renders the lock key for a doctor and date.
func Key(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("bookinglock:%s:%s", doctorID, date.Format(time.DateOnly))
}

// Acquire takes the lock, waiting briefly for a competing holder. The caller
// must invoke the returned release function exactly once.
func (l *BookingLock) Acquire(ctx context.Context, doctorID uuid.UUID, date time.Time) (func(), error) {
	key := Key(doctorID, date)
	if l.client == nil {
		return l.acquireLocal(ctx, key)
	}
	return l.acquireRedis(ctx, key)
}

func (l *BookingLock) acquireRedis(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.waitFor)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("locks: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrSlotBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryGap):
		}
	}

	release := func() {
		// Delete only if we still hold it; an expired lock may belong to
		// someone else by now.
		const script = `
			if redis.call("GET", KEYS[1]) == ARGV[1] then
				return redis.call("DEL", KEYS[1])
			end
			return 0`
		if err := l.client.Eval(context.Background(), script, []string{key}, token).Err(); err != nil {
			l.logger.Warn("booking lock release failed", "key", key, "error", err)
		}
	}
	return release, nil
}

func (l *BookingLock) acquireLocal(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		holder, held := l.local[key]
		if !held {
			done := make(chan struct{})
			l.local[key] = done
			l.mu.Unlock()
			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.local, key)
					l.mu.Unlock()
					close(done)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-holder:
		case <-time.After(l.waitFor):
			return nil, ErrSlotBusy
		}
	}
}
