// Package dispatcher demultiplexes client operations and backing-store
// replies to the map cache, translator, and copy-up state machine. It
// is the single cooperative worker the rest of the daemon's core runs
// under: every mutation of a Map, an ObjectTable, or an InFlight copy-up
// happens on its goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/archipelago/mapperd/internal/logger"
	"github.com/archipelago/mapperd/internal/metrics"
	"github.com/archipelago/mapperd/pkg/codec"
	"github.com/archipelago/mapperd/pkg/copyup"
	"github.com/archipelago/mapperd/pkg/mapcache"
	"github.com/archipelago/mapperd/pkg/mapper"
	"github.com/archipelago/mapperd/pkg/objecttable"
	"github.com/archipelago/mapperd/pkg/request"
	"github.com/archipelago/mapperd/pkg/translator"
)

var (
	// ErrMapUnavailable is returned for a client operation against a
	// volume whose map failed to load (DESTROYED) or could not even
	// begin loading.
	ErrMapUnavailable = errors.New("dispatcher: map unavailable")

	// ErrNotSupported is returned for SNAPSHOT and DELETE: present as
	// stubs, not part of the core contract.
	ErrNotSupported = errors.New("dispatcher: operation not supported")

	// ErrInternal marks a failure in the dispatcher's own bookkeeping
	// rather than in client input or backing-store state.
	ErrInternal = errors.New("dispatcher: internal error")
)

// Dispatcher is the daemon's core: one map cache, one backing-store
// port, one copy-up tracker, run from a single goroutine via Run.
type Dispatcher struct {
	maps     *mapcache.Cache
	port     *request.Port
	copies   *copyup.Tracker
	metrics  *metrics.Metrics
	loads    map[request.Handle]string // READ handle -> volume awaiting its map block
	incoming chan *request.ClientRequest
}

// New builds a Dispatcher over the given map cache, backing-store port,
// and copy-up tracker. m may be nil, in which case metrics collection is
// skipped entirely.
func New(maps *mapcache.Cache, port *request.Port, copies *copyup.Tracker, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		maps:     maps,
		port:     port,
		copies:   copies,
		metrics:  m,
		loads:    make(map[request.Handle]string),
		incoming: make(chan *request.ClientRequest, 64),
	}
}

// Submit hands a new client request to the dispatcher's worker. Safe to
// call from any goroutine.
func (d *Dispatcher) Submit(pr *request.ClientRequest) {
	d.incoming <- pr
}

// Run drives the single cooperative worker loop until ctx is canceled.
// It alternates between newly-submitted client requests and
// backing-store replies; neither path blocks on the other.
func (d *Dispatcher) Run(ctx context.Context) {
	replies := d.port.Replies()
	for {
		select {
		case <-ctx.Done():
			return
		case pr := <-d.incoming:
			d.dispatch(ctx, pr)
		case reply := <-replies:
			d.handleReply(ctx, reply)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, pr *request.ClientRequest) {
	switch pr.Op {
	case request.OpMapRead:
		d.handleMap(ctx, pr, false)
	case request.OpMapWrite:
		d.handleMap(ctx, pr, true)
	case request.OpInfo:
		d.handleInfo(ctx, pr)
	case request.OpClone:
		d.handleClone(ctx, pr)
	case request.OpSnapshot, request.OpDelete:
		pr.Fail(ErrNotSupported)
	default:
		pr.Fail(fmt.Errorf("%w: unrecognized op %q", ErrInternal, pr.Op))
	}
}

func (d *Dispatcher) handleReply(ctx context.Context, reply request.BackingReply) {
	switch reply.Op {
	case request.BackingRead:
		d.handleReadReply(ctx, reply)
	case request.BackingCopy:
		d.handleCopyReply(ctx, reply)
	case request.BackingWrite:
		d.handleWriteReply(reply)
	}
}

// handleWriteReply logs the outcome of a map persist write-back. No
// client request is parked on a WRITE: persistence failures are
// observability, not something any caller is waiting to hear about.
func (d *Dispatcher) handleWriteReply(reply request.BackingReply) {
	if reply.Err != nil {
		logger.Error("dispatcher: map persist failed", logger.Err(reply.Err), logger.Volume(reply.Target))
		return
	}
	logger.Debug("dispatcher: map persisted", logger.Volume(reply.Target))
}

// issueMapRead submits the single-block READ MapCache's load protocol
// requires, and remembers which volume the reply belongs to.
func (d *Dispatcher) issueMapRead(ctx context.Context, volume string) (request.Handle, error) {
	handle, err := d.port.SubmitRead(ctx, volume, 0, mapper.BlockSize)
	if err != nil {
		return "", err
	}
	d.loads[handle] = volume
	return handle, nil
}

func (d *Dispatcher) handleMap(ctx context.Context, pr *request.ClientRequest, write bool) {
	if pr.Err != nil {
		pr.Fail(pr.Err)
		return
	}

	result, m, _, err := d.maps.FindOrLoad(ctx, pr, pr.Volume, d.issueMapRead)
	switch result {
	case mapcache.LoadError:
		d.metrics.ObserveCachePending()
		if err != nil {
			pr.Fail(fmt.Errorf("%w: %v", ErrMapUnavailable, err))
		} else {
			pr.Fail(ErrMapUnavailable)
		}
	case mapcache.LoadPending:
		// pr is already parked on map.pending; nothing more to do now.
		d.metrics.ObserveCachePending()
	case mapcache.LoadReady:
		d.metrics.ObserveCacheReady()
		d.translate(ctx, pr, m, write)
	}
}

func (d *Dispatcher) translate(ctx context.Context, pr *request.ClientRequest, m *mapcache.Map, write bool) {
	op := "MAPR"
	if write {
		op = "MAPW"
	}

	start := time.Now()
	out, err := translator.Translate(m, pr.Offset, pr.Size, write)
	d.metrics.ObserveTranslateDuration(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		pr.Fail(err)
		return
	}

	if !out.Ready {
		d.block(ctx, pr, m, out.Blocking)
		return
	}

	pr.Succeed(request.Result{Segments: out.Segments})
}

func (d *Dispatcher) block(ctx context.Context, pr *request.ClientRequest, m *mapcache.Map, b *translator.Blocking) {
	if b.NeedsCopyUp {
		if _, err := d.copies.Issue(ctx, d.port, m.Volume, b.Index, b.Entry); err != nil {
			pr.Fail(fmt.Errorf("%w: %v", ErrInternal, err))
			return
		}
		d.metrics.ObserveCopyUpIssued()
	}
	b.Entry.Enqueue(pr)
}

func (d *Dispatcher) handleInfo(ctx context.Context, pr *request.ClientRequest) {
	if pr.Err != nil {
		pr.Fail(pr.Err)
		return
	}

	result, m, _, err := d.maps.FindOrLoad(ctx, pr, pr.Volume, d.issueMapRead)
	switch result {
	case mapcache.LoadError:
		d.metrics.ObserveCachePending()
		if err != nil {
			pr.Fail(fmt.Errorf("%w: %v", ErrMapUnavailable, err))
		} else {
			pr.Fail(ErrMapUnavailable)
		}
	case mapcache.LoadPending:
		d.metrics.ObserveCachePending()
	case mapcache.LoadReady:
		d.metrics.ObserveCacheReady()
		pr.Succeed(request.Result{Size: m.Size})
	}
}

// handleClone loads pr.Parent (parking pr on its map like any other
// operation if it is not yet ready) and, once it is, builds a new map
// for pr.Volume whose object table is copied from the parent's for
// every index the new size implies, filling any index the parent
// lacks with the sentinel zero-block name.
func (d *Dispatcher) handleClone(ctx context.Context, pr *request.ClientRequest) {
	if pr.Err != nil {
		pr.Fail(pr.Err)
		return
	}

	result, parent, _, err := d.maps.FindOrLoad(ctx, pr, pr.Parent, d.issueMapRead)
	switch result {
	case mapcache.LoadError:
		if err != nil {
			pr.Fail(fmt.Errorf("%w: %v", ErrMapUnavailable, err))
		} else {
			pr.Fail(ErrMapUnavailable)
		}
		return
	case mapcache.LoadPending:
		return
	}

	// count intentionally uses truncating division + 1, not
	// mapper.ObjectCount's ceiling: this mirrors the original CLONE
	// handler's sizing, which overcounts by one entry when NewSize is an
	// exact multiple of BlockSize. The extra entry is unreachable by
	// Translate but kept for fidelity with the source behavior.
	count := uint32(pr.NewSize/mapper.BlockSize) + 1
	table := objecttable.New()
	for i := uint32(0); i < count; i++ {
		name := codec.ZeroBlockName()
		if entry, ok := parent.Objects.Find(i); ok {
			name = entry.Name
		}
		table.Insert(&objecttable.Entry{Index: i, Name: name})
	}

	clone := &mapcache.Map{
		Volume:  pr.Volume,
		Size:    pr.NewSize,
		State:   mapcache.Ready,
		Objects: table,
	}
	d.maps.Insert(clone)
	d.persist(ctx, pr.Volume, clone)

	pr.Succeed(request.Result{})
}

// persist encodes m's current header/table in the native on-disk layout
// and writes it back to the backing store at offset 0 of volume,
// mirroring the original's per-object-record WRITE at
// mapheader_size + i*objectsize_in_map. No client request waits on the
// result: a failed write-back is logged, not surfaced, since the
// in-memory Map the dispatcher just served out of is already correct.
func (d *Dispatcher) persist(ctx context.Context, volume string, m *mapcache.Map) {
	data, err := codec.Encode(m.Size, m.Objects)
	if err != nil {
		logger.Error("dispatcher: failed to encode map for persist", logger.Err(err), logger.Volume(volume))
		return
	}
	if _, err := d.port.SubmitWrite(ctx, volume, 0, data); err != nil {
		logger.Error("dispatcher: failed to submit map persist", logger.Err(err), logger.Volume(volume))
	}
}

func (d *Dispatcher) handleReadReply(ctx context.Context, reply request.BackingReply) {
	volume, ok := d.loads[reply.Handle]
	if !ok {
		logger.Warn("dispatcher: READ reply for unknown handle", logger.Handle(string(reply.Handle)))
		return
	}
	delete(d.loads, reply.Handle)

	m, ok := d.maps.Find(volume)
	if !ok {
		return
	}

	if reply.Err != nil {
		d.destroy(m, volume, reply.Err)
		return
	}

	size, table, _, err := codec.Decode(reply.Data)
	if err != nil {
		d.destroy(m, volume, err)
		return
	}

	m.Size = size
	m.Objects = table
	m.State = mapcache.Ready

	for _, waiter := range m.Drain() {
		d.dispatch(ctx, waiter)
	}
}

func (d *Dispatcher) destroy(m *mapcache.Map, volume string, err error) {
	m.State = mapcache.Destroyed
	d.maps.Remove(volume)
	d.metrics.ObserveMapDestroyed()
	for _, waiter := range m.Drain() {
		waiter.Fail(err)
	}
}

func (d *Dispatcher) handleCopyReply(ctx context.Context, reply request.BackingReply) {
	inFlight, pending := d.copies.Complete(reply.Handle, reply.Err)
	if inFlight == nil {
		logger.Warn("dispatcher: COPY reply for unknown handle", logger.Handle(string(reply.Handle)))
		return
	}

	d.metrics.ObserveCopyUpCompleted(reply.Err == nil)

	if reply.Err == nil {
		if m, ok := d.maps.Find(inFlight.Volume); ok {
			d.persist(ctx, inFlight.Volume, m)
		}
	}

	for _, waiter := range pending {
		d.dispatch(ctx, waiter)
	}
}
