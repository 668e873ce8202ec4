package remote

import (
	"context"
	"errors"
)

// ErrBusy is returned when every in-process slot for the service is taken.
// Callers treat it like any other per-call failure and process locally.
var ErrBusy = errors.New("remote service at inflight capacity")

// SlotReserver hands out in-process call slots per service name.
type SlotReserver interface {
	Allow(service string) (func(), bool)
}

// Throttled caps concurrent calls to the remote service so one busy worker
// pool cannot flood it. Health checks are not throttled.
type Throttled struct {
	*Client
	Slots SlotReserver
}

const slotService = "remote"

func (t *Throttled) CropImage(ctx context.Context, req CropRequest) (CropResponse, error) {
	release, ok := t.Slots.Allow(slotService)
	if !ok {
		return CropResponse{}, ErrBusy
	}
	defer release()
	return t.Client.CropImage(ctx, req)
}

func (t *Throttled) ProcessBatch(ctx context.Context, req BatchRequest) (BatchResponse, error) {
	release, ok := t.Slots.Allow(slotService)
	if !ok {
		return BatchResponse{}, ErrBusy
	}
	defer release()
	return t.Client.ProcessBatch(ctx, req)
}

func (t *Throttled) ComposeSheet(ctx context.Context, req ComposeRequest) (ComposeResponse, error) {
	release, ok := t.Slots.Allow(slotService)
	if !ok {
		return ComposeResponse{}, ErrBusy
	}
	defer release()
	return t.Client.ComposeSheet(ctx, req)
}
