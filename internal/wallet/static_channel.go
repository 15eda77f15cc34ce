package wallet

import "sync"

// StaticChannel announces a fixed set of providers, configured up front,
// in reply to every discovery request.
type StaticChannel struct {
	mu          sync.Mutex
	descriptors []Descriptor
	requests    int
	ch          chan Descriptor
}

func NewStaticChannel(descriptors []Descriptor) *StaticChannel {
	return &StaticChannel{
		descriptors: append([]Descriptor(nil), descriptors...),
		ch:          make(chan Descriptor, 16),
	}
}

// RequestProviders re-announces every configured provider.
func (c *StaticChannel) RequestProviders() {
	c.mu.Lock()
	c.requests++
	pending := append([]Descriptor(nil), c.descriptors...)
	c.mu.Unlock()

	go func() {
		for _, d := range pending {
			c.ch <- d
		}
	}()
}

// Announce pushes a provider that appeared after discovery started.
func (c *StaticChannel) Announce(d Descriptor) {
	c.mu.Lock()
	c.descriptors = append(c.descriptors, d)
	c.mu.Unlock()
	go func() { c.ch <- d }()
}

func (c *StaticChannel) Announcements() <-chan Descriptor {
	return c.ch
}

// Requests returns how many discovery requests were received.
func (c *StaticChannel) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}
