package storage

import (
	"context"

	"tokenScope/internal/model"
)

// EventSink mirrors events entering and leaving the event store.
type EventSink interface {
	PutEvents(ctx context.Context, events []model.ChainEvent) error
	RemoveEvents(ctx context.Context, keys []model.EventKey) error
}

// ViewSink mirrors published views. Mirrors are write-only; the service never
// reads them back.
type ViewSink interface {
	PutViews(ctx context.Context, views model.Views) error
}
