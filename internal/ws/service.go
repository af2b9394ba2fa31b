package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/workspace-hub/backend/internal/model"
	"github.com/workspace-hub/backend/internal/store"
)

// Dispatcher is the append-and-broadcast pipeline. Every message bound
// for a workspace passes through Deliver, which serializes the log
// append and the fan-out under a per-key lock so the persisted order
// and every subscriber's delivered order are the same total order.
type Dispatcher struct {
	store    *store.Store
	registry *Registry

	mu    sync.Mutex
	order map[string]*sync.Mutex
}

// NewDispatcher creates a Dispatcher over the given store and registry.
func NewDispatcher(st *store.Store, registry *Registry) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: registry,
		order:    make(map[string]*sync.Mutex),
	}
}

// keyLock returns the order lock for a workspace key.
func (d *Dispatcher) keyLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.order[key]
	if !ok {
		l = &sync.Mutex{}
		d.order[key] = l
	}
	return l
}

// Deliver appends a message to the workspace log and broadcasts it to
// every subscriber as a frame of the given type. A failed durable write
// is logged; the message has already been appended in memory and is
// still delivered.
func (d *Dispatcher) Deliver(frameType, project, workspace string, msg model.Message) {
	key := Key(project, workspace)

	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := d.store.Append(context.Background(), project, workspace, msg); err != nil {
		log.Printf("Persistence warning for %s: %v", key, err)
	}

	data, err := json.Marshal(BroadcastFrame{
		Type:      FrameType(frameType),
		Project:   project,
		Workspace: workspace,
		Message:   msg,
	})
	if err != nil {
		log.Printf("Failed to marshal %s frame for %s: %v", frameType, key, err)
		return
	}

	d.registry.Broadcast(key, data)
}

// Join subscribes a client to a workspace and queues the history frame
// from the current log snapshot. Running under the key's order lock
// guarantees the history has no gap against, and no overlap with, the
// live broadcasts that follow.
func (d *Dispatcher) Join(project, workspace string, client *Client) error {
	key := Key(project, workspace)

	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	d.registry.Subscribe(key, client)

	data, err := json.Marshal(HistoryFrame{
		Type:      FrameTypeHistory,
		Project:   project,
		Workspace: workspace,
		Messages:  d.store.Messages(project, workspace),
	})
	if err != nil {
		d.registry.Unsubscribe(key, client)
		return err
	}

	client.Send(data)
	return nil
}

// Leave removes a client's subscription.
func (d *Dispatcher) Leave(key string, client *Client) {
	d.registry.Unsubscribe(key, client)
}
