package core

import (
	"context"
	"fmt"
	"sync"
)

// BroadcastSubscriber receives published contexts in-process. Subscribers run
// synchronously on the publishing goroutine; a subscriber error fails the
// publish and with it the event's outcome.
type BroadcastSubscriber func(ctx context.Context, tenantHint string, bc BroadcastContext) error

// MemoryBroadcaster is the in-process publish boundary for tests and
// single-process deployments. The redisbroadcast adapter carries the
// cross-process implementation.
type MemoryBroadcaster struct {
	mu          sync.RWMutex
	subscribers []BroadcastSubscriber
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

func (b *MemoryBroadcaster) Subscribe(subscriber BroadcastSubscriber) {
	if b == nil || subscriber == nil {
		return
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, subscriber)
	b.mu.Unlock()
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, tenantHint string, bc BroadcastContext) error {
	if b == nil {
		return fmt.Errorf("core: broadcaster is nil")
	}
	b.mu.RLock()
	subscribers := make([]BroadcastSubscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	var publishErr error
	for _, subscriber := range subscribers {
		if subscriber == nil {
			continue
		}
		if err := subscriber(ctx, tenantHint, bc); err != nil {
			publishErr = joinErrors(publishErr, err)
		}
	}
	return publishErr
}

var _ BroadcastPublisher = (*MemoryBroadcaster)(nil)
