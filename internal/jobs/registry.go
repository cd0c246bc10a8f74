package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// Handle is the cancellation bookkeeping for one running job. mu serializes
// record writes between the job goroutine and Cancel.
type Handle struct {
	Token     *capture.CancelToken
	Submitted time.Time
	Info      map[string]string

	mu       sync.Mutex
	finished bool
}

// Registry maps job ids to handles for jobs still running in this process.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register tracks h under id. A second registration of the same id fails.
func (r *Registry) Register(id string, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; ok {
		return fmt.Errorf("job %s already registered", id)
	}
	r.handles[id] = h
	return nil
}

// Unregister forgets id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Lookup returns the handle for id.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// IDs returns the tracked job ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
