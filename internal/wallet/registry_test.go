package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Descriptor) Descriptor {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "observer closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for announcement")
	}
	return Descriptor{}
}

func TestRegistryDeduplicatesAndRequestsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewStaticChannel([]Descriptor{
		{ID: "a", DisplayName: "Alpha"},
		{ID: "b", DisplayName: "Beta"},
	})
	registry := NewRegistry(channel, nil)

	first := registry.Observe(ctx)
	require.Equal(t, "a", receive(t, first).ID)
	require.Equal(t, "b", receive(t, first).ID)

	second := registry.Observe(ctx)
	require.Equal(t, "a", receive(t, second).ID)
	require.Equal(t, "b", receive(t, second).ID)
	require.Equal(t, 1, channel.Requests())

	channel.Announce(Descriptor{ID: "a", DisplayName: "Alpha again"})
	channel.Announce(Descriptor{ID: "c", DisplayName: "Gamma"})
	require.Equal(t, "c", receive(t, first).ID)
	require.Equal(t, "c", receive(t, second).ID)

	list := registry.List()
	require.Len(t, list, 3)
	require.Equal(t, "Alpha", list[0].DisplayName)

	d, ok := registry.Get("c")
	require.True(t, ok)
	require.Equal(t, "Gamma", d.DisplayName)
}

func TestRegistryEmptyIsValid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	channel := NewStaticChannel(nil)
	registry := NewRegistry(channel, nil)

	ch := registry.Observe(ctx)
	require.Empty(t, registry.List())
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("observer not closed after cancel")
	}
	_, ok := registry.Get("missing")
	require.False(t, ok)
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := NewStaticChannel([]Descriptor{{ID: " "}, {ID: "x"}})
	registry := NewRegistry(channel, nil)
	require.Equal(t, "x", receive(t, registry.Observe(ctx)).ID)
	require.Len(t, registry.List(), 1)
}
