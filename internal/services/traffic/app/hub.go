package app

import (
	"sync"
)

// observerQueueDepth bounds the outbound frame buffer per observer. An
// observer whose buffer is full when a frame arrives is dropped rather than
// allowed to stall the broadcaster.
const observerQueueDepth = 32

// observer is one connected push-channel client.
type observer struct {
	mu     sync.Mutex
	frames chan outboundFrame
	closed bool
}

func newObserver() *observer {
	return &observer{frames: make(chan outboundFrame, observerQueueDepth)}
}

// enqueue offers a frame without blocking. It reports false when the
// observer is closed or its buffer is full.
func (o *observer) enqueue(frame outboundFrame) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.frames <- frame:
		return true
	default:
		return false
	}
}

// close ends the outbound stream. Safe to call multiple times.
func (o *observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.frames)
}

// storeRoom tracks the observers subscribed to one store.
type storeRoom struct {
	mu          sync.Mutex
	subscribers map[*observer]struct{}
}

func newStoreRoom() *storeRoom {
	return &storeRoom{subscribers: make(map[*observer]struct{})}
}

// hub routes processed deltas to store-scoped subscriber rooms. An observer
// holds at most one subscription; subscribing again moves it.
type hub struct {
	mu      sync.Mutex
	rooms   map[int]*storeRoom
	current map[*observer]*storeRoom
}

func newHub() *hub {
	return &hub{
		rooms:   make(map[int]*storeRoom),
		current: make(map[*observer]*storeRoom),
	}
}

func (h *hub) room(storeID int) *storeRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[storeID]
	if !ok {
		room = newStoreRoom()
		h.rooms[storeID] = room
	}
	return room
}

// subscribe registers the observer for one store and delivers its baseline
// snapshot before any incremental frame. The snapshot is built and enqueued
// while holding the room lock, so a concurrent publish cannot slip an
// increment ahead of it.
func (h *hub) subscribe(obs *observer, storeID int, snapshot func() (outboundFrame, error)) error {
	h.unsubscribe(obs)

	room := h.room(storeID)
	room.mu.Lock()
	defer room.mu.Unlock()

	frame, err := snapshot()
	if err != nil {
		return err
	}
	if !obs.enqueue(frame) {
		return nil
	}
	room.subscribers[obs] = struct{}{}

	h.mu.Lock()
	h.current[obs] = room
	h.mu.Unlock()
	return nil
}

// unsubscribe removes the observer's registration. Safe to call repeatedly.
func (h *hub) unsubscribe(obs *observer) {
	h.mu.Lock()
	room := h.current[obs]
	delete(h.current, obs)
	h.mu.Unlock()

	if room == nil {
		return
	}
	room.mu.Lock()
	delete(room.subscribers, obs)
	room.mu.Unlock()
}

// drop unsubscribes the observer and ends its outbound stream.
func (h *hub) drop(obs *observer) {
	h.unsubscribe(obs)
	obs.close()
}

// publish delivers a frame to every observer of the store. Observers that
// cannot accept the frame are unregistered and closed; one broken observer
// never blocks delivery to the rest.
func (h *hub) publish(storeID int, frame outboundFrame) {
	h.mu.Lock()
	room, ok := h.rooms[storeID]
	h.mu.Unlock()
	if !ok {
		return
	}

	var dead []*observer
	room.mu.Lock()
	for obs := range room.subscribers {
		if !obs.enqueue(frame) {
			dead = append(dead, obs)
		}
	}
	for _, obs := range dead {
		delete(room.subscribers, obs)
	}
	room.mu.Unlock()

	for _, obs := range dead {
		h.mu.Lock()
		delete(h.current, obs)
		h.mu.Unlock()
		obs.close()
	}
}
