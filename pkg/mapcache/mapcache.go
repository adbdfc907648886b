// Package mapcache holds the in-memory set of loaded volume maps, and
// the load protocol that brings a map from cold storage into that set.
package mapcache

import (
	"context"
	"sync"

	"github.com/archipelago/mapperd/pkg/objecttable"
	"github.com/archipelago/mapperd/pkg/request"
)

// State is a Map's lifecycle stage.
type State int

const (
	// Loading means a READ of the map block is in flight; requests
	// against this volume park on Map.Pending until it completes.
	Loading State = iota

	// Ready means the object table is decoded and requests can be
	// served immediately.
	Ready

	// Destroyed means the map failed to load (unreadable or corrupt
	// block) and every parked request has been failed. A destroyed Map
	// is evicted with Cache.Remove, and its pending queue is then
	// drained with failure.
	Destroyed
)

// Map is one volume's cached state: its declared size and, once loaded,
// its object table.
type Map struct {
	Volume  string
	Size    uint64
	State   State
	Objects *objecttable.Table

	pending []*request.ClientRequest
}

// Enqueue parks r until the map finishes loading.
func (m *Map) Enqueue(r *request.ClientRequest) {
	m.pending = append(m.pending, r)
}

// Drain removes and returns every request parked on the map.
func (m *Map) Drain() []*request.ClientRequest {
	p := m.pending
	m.pending = nil
	return p
}

// LoadResult reports what FindOrLoad could determine synchronously.
type LoadResult int

const (
	// LoadReady means the Map is returned ready to serve.
	LoadReady LoadResult = iota

	// LoadPending means the caller's request was parked: either a load
	// was just issued, or one was already in flight for this volume.
	LoadPending

	// LoadError means the cached Map is Destroyed or the load could not
	// even be issued.
	LoadError
)

// ReadIssuer asynchronously reads a volume's map block and returns the
// backing-store handle whose reply will carry it.
type ReadIssuer func(ctx context.Context, volume string) (request.Handle, error)

// Cache is the set of volume maps currently known to the dispatcher,
// keyed by volume name.
type Cache struct {
	mu     sync.Mutex
	byName map[string]*Map
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byName: make(map[string]*Map)}
}

// Find looks up a volume's Map without triggering a load.
func (c *Cache) Find(volume string) (*Map, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byName[volume]
	return m, ok
}

// Insert adds or replaces the Map for its volume.
func (c *Cache) Insert(m *Map) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[m.Volume] = m
}

// Remove evicts the Map for volume, if present.
func (c *Cache) Remove(volume string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byName, volume)
}

// FindOrLoad returns the volume's Map if it is already Ready, parks pr
// and issues (or joins) a load if it is not, and reports which it did.
// Callers that get LoadPending must not touch pr again: it has already
// been enqueued and will receive its Result when the load resolves.
func (c *Cache) FindOrLoad(ctx context.Context, pr *request.ClientRequest, volume string, issue ReadIssuer) (LoadResult, *Map, request.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byName[volume]
	if ok {
		switch m.State {
		case Ready:
			return LoadReady, m, "", nil
		case Loading:
			m.Enqueue(pr)
			return LoadPending, m, "", nil
		case Destroyed:
			return LoadError, m, "", nil
		}
	}

	m = &Map{Volume: volume, State: Loading}
	m.Enqueue(pr)
	c.byName[volume] = m

	handle, err := issue(ctx, volume)
	if err != nil {
		m.State = Destroyed
		delete(c.byName, volume)
		return LoadError, m, "", err
	}

	return LoadPending, m, handle, nil
}
