// Package synctrigger keeps track of one-shot replay triggers.
// A trigger is a registered intent to run a processing routine once
// connectivity to the origin is restored.
package synctrigger

import "sync"

// TagSyncQueue is the trigger tag used for queued-request replay.
const TagSyncQueue = "sync-queue"

// Registry holds pending one-shot trigger tags.
// Registering an already-pending tag is a no-op, and firing clears the
// tag, so a tag fires at most once per registration.
type Registry struct {
	mutex   *sync.Mutex
	pending map[string]bool
	fired   chan string
}

func NewRegistry() *Registry {
	return &Registry{
		mutex:   &sync.Mutex{},
		pending: make(map[string]bool),
		fired:   make(chan string, 16),
	}
}

// Register marks the tag as pending.
// It reports whether the tag was newly registered.
func (r *Registry) Register(tag string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.pending[tag] {
		return false
	}
	r.pending[tag] = true
	return true
}

// Pending reports whether the tag is currently registered.
func (r *Registry) Pending(tag string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.pending[tag]
}

// Fire clears the tag and emits it on the Fired channel.
// Firing a tag that is not pending is a no-op.
func (r *Registry) Fire(tag string) bool {
	r.mutex.Lock()
	if !r.pending[tag] {
		r.mutex.Unlock()
		return false
	}
	delete(r.pending, tag)
	r.mutex.Unlock()
	select {
	case r.fired <- tag:
	default:
		// channel full: the consumer already has work queued up,
		// and duplicate firings are tolerated anyway
	}
	return true
}

// FireAll fires every pending tag and returns the tags fired.
func (r *Registry) FireAll() []string {
	r.mutex.Lock()
	tags := make([]string, 0, len(r.pending))
	for tag := range r.pending {
		tags = append(tags, tag)
	}
	r.mutex.Unlock()
	fired := make([]string, 0, len(tags))
	for _, tag := range tags {
		if r.Fire(tag) {
			fired = append(fired, tag)
		}
	}
	return fired
}

// Fired returns the channel on which fired tags are delivered.
func (r *Registry) Fired() <-chan string {
	return r.fired
}
