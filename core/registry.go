package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ConsumerRegistry maps event categories to ordered consumer lists. It is
// built at startup and injected into the dispatcher; registration order is
// invocation order within a category.
type ConsumerRegistry struct {
	mu        sync.RWMutex
	consumers map[string][]RegisteredConsumer
}

func NewConsumerRegistry() *ConsumerRegistry {
	return &ConsumerRegistry{consumers: make(map[string][]RegisteredConsumer)}
}

func (r *ConsumerRegistry) Register(category, name string, consumer Consumer) error {
	if consumer == nil {
		return fmt.Errorf("core: consumer is nil")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return fmt.Errorf("core: consumer category is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("core: consumer name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.consumers[category] {
		if existing.Name == name {
			return fmt.Errorf("core: consumer already registered: %s/%s", category, name)
		}
	}
	r.consumers[category] = append(r.consumers[category], RegisteredConsumer{
		Category: category,
		Name:     name,
		Consume:  consumer,
	})
	return nil
}

// Resolve returns the registered consumers for a category in registration
// order. An unknown category yields an empty slice, never an error.
func (r *ConsumerRegistry) Resolve(category string) []RegisteredConsumer {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.consumers[category]
	if len(registered) == 0 {
		return nil
	}
	out := make([]RegisteredConsumer, len(registered))
	copy(out, registered)
	return out
}

func (r *ConsumerRegistry) Categories() []string {
	r.mu.RLock()
	categories := make([]string, 0, len(r.consumers))
	for category := range r.consumers {
		categories = append(categories, category)
	}
	r.mu.RUnlock()
	sort.Strings(categories)
	return categories
}

func (r *ConsumerRegistry) ConsumerNames() []string {
	r.mu.RLock()
	seen := map[string]struct{}{}
	for _, registered := range r.consumers {
		for _, consumer := range registered {
			seen[consumer.Name] = struct{}{}
		}
	}
	r.mu.RUnlock()
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
