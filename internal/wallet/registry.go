package wallet

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DiscoveryChannel carries provider announcements. RequestProviders asks
// every provider to announce itself; providers may answer every request.
type DiscoveryChannel interface {
	RequestProviders()
	Announcements() <-chan Descriptor
}

// Registry keeps the deduplicated list of announced providers.
type Registry struct {
	channel DiscoveryChannel
	logger  *zap.Logger
	once    sync.Once

	mu      sync.RWMutex
	known   map[string]int
	list    []Descriptor
	changed chan struct{}
}

// NewRegistry builds a registry over the discovery channel.
func NewRegistry(channel DiscoveryChannel, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		channel: channel,
		logger:  logger,
		known:   make(map[string]int),
		changed: make(chan struct{}),
	}
}

// Observe streams every known descriptor followed by newly announced ones
// until ctx is done. The first call starts listening and sends the discovery
// request; later calls never send it again.
func (r *Registry) Observe(ctx context.Context) <-chan Descriptor {
	r.start()

	out := make(chan Descriptor)
	go func() {
		defer close(out)
		next := 0
		for {
			r.mu.RLock()
			pending := append([]Descriptor(nil), r.list[next:]...)
			wake := r.changed
			r.mu.RUnlock()

			for _, d := range pending {
				select {
				case out <- d:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Registry) start() {
	r.once.Do(func() {
		if r.channel == nil {
			return
		}
		announcements := r.channel.Announcements()
		go func() {
			for d := range announcements {
				r.add(d)
			}
		}()
		r.channel.RequestProviders()
		r.logger.Debug("wallet discovery requested")
	})
}

func (r *Registry) add(d Descriptor) {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		r.logger.Warn("ignoring wallet announcement without id", zap.String("name", d.DisplayName))
		return
	}

	r.mu.Lock()
	if _, ok := r.known[d.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.known[d.ID] = len(r.list)
	r.list = append(r.list, d)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("wallet announced", zap.String("id", d.ID), zap.String("name", d.DisplayName), zap.String("rdns", d.RDNS))
}

// List returns the known descriptors in announcement order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.list...)
}

// Get looks up a descriptor by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.known[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.list[i], true
}
