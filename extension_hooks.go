package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ingest/core"
)

// ConsumerRegistration binds one consumer to the event category it handles.
type ConsumerRegistration struct {
	Category string
	Name     string
	Consumer core.Consumer
}

// ConsumerPack groups registrations an embedding application installs as one
// unit, usually one pack per downstream subsystem.
type ConsumerPack struct {
	Name      string
	Consumers []ConsumerRegistration
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	consumerPacks map[string]ConsumerPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		consumerPacks: map[string]ConsumerPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterConsumerPack(pack ConsumerPack) error {
	if h == nil {
		return fmt.Errorf("ingest: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("ingest: consumer pack name is required")
	}
	if len(pack.Consumers) == 0 {
		return fmt.Errorf("ingest: consumer pack %q has no consumers", name)
	}

	normalized := ConsumerPack{
		Name:      name,
		Consumers: append([]ConsumerRegistration(nil), pack.Consumers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.consumerPacks[name]; exists {
		return fmt.Errorf("ingest: consumer pack %q already registered", name)
	}
	h.consumerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("ingest: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("ingest: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("ingest: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("ingest: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyConsumerPacks registers every packed consumer, pack by pack in name
// order. Registration order inside a pack is preserved because the registry
// invokes a category's consumers in registration order.
func (h *ExtensionHooks) ApplyConsumerPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("ingest: registry is required")
	}

	packs := h.ConsumerPacks()
	for _, pack := range packs {
		for _, registration := range pack.Consumers {
			if registration.Consumer == nil {
				return fmt.Errorf("ingest: consumer pack %q contains nil consumer", pack.Name)
			}
			if err := registry.Register(registration.Category, registration.Name, registration.Consumer); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("ingest: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ConsumerPacks() []ConsumerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.consumerPacks))
	for name := range h.consumerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ConsumerPack, 0, len(names))
	for _, name := range names {
		pack := h.consumerPacks[name]
		out = append(out, ConsumerPack{
			Name:      name,
			Consumers: append([]ConsumerRegistration(nil), pack.Consumers...),
		})
	}
	return out
}

// Consumers returns every packed registration for one category, ordered by
// pack name so repeated applications produce the same registry sequence.
func (h *ExtensionHooks) Consumers(category string) []ConsumerRegistration {
	if h == nil {
		return nil
	}
	category = strings.TrimSpace(category)
	h.mu.RLock()
	defer h.mu.RUnlock()

	packNames := make([]string, 0, len(h.consumerPacks))
	for name := range h.consumerPacks {
		packNames = append(packNames, name)
	}
	sort.Strings(packNames)

	out := []ConsumerRegistration{}
	for _, name := range packNames {
		for _, registration := range h.consumerPacks[name].Consumers {
			if registration.Category == category {
				out = append(out, registration)
			}
		}
	}
	return append([]ConsumerRegistration(nil), out...)
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
