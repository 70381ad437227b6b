// Package syncer bridges committed task mutations with the best-effort
// broadcast channel. Outbound, it turns post-commit projections into sync
// envelopes; inbound, it reconciles bus messages against the authoritative
// store instead of trusting their payloads.
package syncer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tasksync/backend/internal/app/tasks"
	"github.com/tasksync/backend/internal/mqttbus"
	"github.com/tasksync/backend/internal/syncproto"
)

// Bus is the publish surface of mqttbus.Client. A nil Bus puts the
// coordinator in degraded mode: CRUD keeps working, broadcasts are skipped.
type Bus interface {
	Publish(topic string, payload []byte, qos byte) error
}

// Store is the read-only slice of the task gateway used by inbound paths.
type Store interface {
	GetByID(ctx context.Context, taskID int64) (tasks.Task, error)
	ListForUser(ctx context.Context, userID int64) ([]tasks.Task, error)
}

type Topics struct {
	Tasks        string
	Calendar     string
	Sync         string
	Notification string
}

// SyncResponse is the data payload of a sync_response envelope.
type SyncResponse struct {
	UserID int64        `json:"user_id"`
	Tasks  []tasks.Task `json:"tasks"`
}

type Coordinator struct {
	Bus    Bus
	Store  Store
	Topics Topics
	QoS    byte

	Now          func() time.Time
	StoreTimeout time.Duration
}

func New(bus Bus, store Store, topics Topics, qos byte) *Coordinator {
	return &Coordinator{
		Bus:          bus,
		Store:        store,
		Topics:       topics,
		QoS:          qos,
		Now:          func() time.Time { return time.Now().UTC() },
		StoreTimeout: 3 * time.Second,
	}
}

func (c *Coordinator) Enabled() bool {
	return c.Bus != nil
}

// Register wires the coordinator's inbound handlers into the topic router.
func (c *Coordinator) Register(r *mqttbus.Router) {
	r.Handle(c.Topics.Tasks, c.HandleTaskHint)
	r.Handle(c.Topics.Sync, c.HandleSyncMessage)
}

var kindToEvent = map[tasks.MutationKind]syncproto.Event{
	tasks.MutationCreated: syncproto.EventTaskCreated,
	tasks.MutationUpdated: syncproto.EventTaskUpdated,
	tasks.MutationDeleted: syncproto.EventTaskDeleted,
}

// TaskCommitted publishes a broadcast for a committed mutation. The mutation
// already succeeded; any failure here is logged and dropped, never surfaced
// to the caller and never rolled back.
func (c *Coordinator) TaskCommitted(kind tasks.MutationKind, task tasks.Task) {
	event, ok := kindToEvent[kind]
	if !ok {
		log.Printf("[sync] skipping broadcast for unknown mutation kind %q", kind)
		return
	}
	c.publish(event, task)
}

func (c *Coordinator) publish(event syncproto.Event, data any) {
	if c.Bus == nil {
		return
	}
	payload, err := syncproto.Encode(event, data, c.Now())
	if err != nil {
		log.Printf("[sync] dropping %s broadcast: encode failed: %v", event, err)
		return
	}
	if err := c.Bus.Publish(c.Topics.Sync, payload, c.QoS); err != nil {
		log.Printf("[sync] dropping %s broadcast: %v", event, err)
	}
}

// HandleTaskHint consumes update hints from the tasks topic. The hint is an
// invalidation signal, not truth: the task is re-read from the store, the
// claimed owner is checked against the record, and only the authoritative
// projection is re-broadcast. Bad hints are dropped.
func (c *Coordinator) HandleTaskHint(topic string, payload []byte) {
	hint, err := syncproto.DecodeTaskHint(payload)
	if err != nil {
		log.Printf("[sync] dropping message on %q: %v", topic, err)
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()

	task, err := c.Store.GetByID(ctx, hint.TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			log.Printf("[sync] dropping hint for unknown task %d", hint.TaskID)
			return
		}
		log.Printf("[sync] task lookup for hint failed: %v", err)
		return
	}
	if task.UserID != hint.UserID {
		log.Printf("[sync] dropping hint for task %d: owner mismatch", hint.TaskID)
		return
	}

	c.publish(syncproto.EventTaskUpdated, task)
}

// HandleSyncMessage consumes the sync topic, which carries both peer
// broadcast envelopes and client sync requests. Envelopes from peers are
// observed only (all instances share the store, so there is nothing to
// apply); a request with action "request" answers with the user's full task
// list. Anything else is logged and dropped.
func (c *Coordinator) HandleSyncMessage(topic string, payload []byte) {
	if _, err := syncproto.Decode(payload); err == nil {
		return
	}

	req, err := syncproto.DecodeSyncRequest(payload)
	if err != nil {
		log.Printf("[sync] dropping message on %q: %v", topic, err)
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()

	list, err := c.Store.ListForUser(ctx, req.UserID)
	if err != nil {
		log.Printf("[sync] task list for sync request failed: %v", err)
		return
	}

	c.publish(syncproto.EventSyncResponse, SyncResponse{UserID: req.UserID, Tasks: list})
}

func (c *Coordinator) storeContext() (context.Context, context.CancelFunc) {
	timeout := c.StoreTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
