// Package registry shares live resources between sequential test cases of
// one run. Resources are bound to group ids and reference counted: a later
// test case looks up a queue pair created by an earlier one, and the
// resource is destroyed once the last holder lets go.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
)

// Kind tags what a group id is bound to
type Kind int

const (
	KindASQ Kind = iota
	KindACQ
	KindIOSQ
	KindIOCQ
	KindCommand
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindASQ:
		return "ASQ"
	case KindACQ:
		return "ACQ"
	case KindIOSQ:
		return "IOSQ"
	case KindIOCQ:
		return "IOCQ"
	case KindCommand:
		return "Command"
	default:
		return "Other"
	}
}

// Freer is implemented by resources that own memory
type Freer interface {
	Free() error
}

// Handle is a reference-counted binding. Lookups of the same group id return
// the same *Handle until the last reference is dropped.
type Handle struct {
	reg   *Registry
	id    string
	kind  Kind
	value any
	refs  int
	freed bool
}

func (h *Handle) ID() string { return h.id }
func (h *Handle) Kind() Kind { return h.kind }
func (h *Handle) Value() any { return h.value }

// Release drops one reference
func (h *Handle) Release() error {
	return h.reg.release(h)
}

// Registry is the run-scoped resource manager
type Registry struct {
	mu       sync.Mutex
	active   bool
	entries  map[string]*Handle
	live     map[*Handle]struct{} // refs > 0, bound or not
	metaSize uint32
	metaBufs []*memory.Buffer
	logger   *logging.Logger
}

// New creates an inactive registry; call Init before use
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		entries: make(map[string]*Handle),
		live:    make(map[*Handle]struct{}),
		logger:  logger.WithGroup("registry"),
	}
}

// Init starts a run
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return errs.New("Init", errs.CodeFrameworkBug, "registry already initialized")
	}
	r.active = true
	r.entries = make(map[string]*Handle)
	r.live = make(map[*Handle]struct{})
	r.metaSize = 0
	return nil
}

// Active reports whether Init was called without a matching Shutdown
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) checkActive(op string) error {
	if !r.active {
		return errs.New(op, errs.CodeFrameworkBug, "registry not initialized")
	}
	return nil
}

// Register binds groupID to value. The registry keeps one reference until
// Unregister.
func (r *Registry) Register(groupID string, kind Kind, value any) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive("Register"); err != nil {
		return nil, err
	}
	if groupID == "" || value == nil {
		return nil, errs.New("Register", errs.CodeInvalidParameters, "empty group id or nil resource")
	}
	if _, dup := r.entries[groupID]; dup {
		return nil, errs.Newf("Register", errs.CodeDuplicateID, "group id %q already bound", groupID)
	}

	h := &Handle{reg: r, id: groupID, kind: kind, value: value, refs: 1}
	r.entries[groupID] = h
	r.live[h] = struct{}{}
	r.logger.Debug("resource registered", "group_id", groupID, "kind", kind.String())
	return h, nil
}

// Lookup returns the handle bound to groupID and takes a reference the
// caller must Release
func (r *Registry) Lookup(groupID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive("Lookup"); err != nil {
		return nil, err
	}
	h, ok := r.entries[groupID]
	if !ok {
		return nil, errs.Newf("Lookup", errs.CodeNotFound, "group id %q not bound", groupID)
	}
	h.refs++
	return h, nil
}

// LookupAs is Lookup with a kind and type check
func LookupAs[T any](r *Registry, groupID string, kind Kind) (T, *Handle, error) {
	var zero T
	h, err := r.Lookup(groupID)
	if err != nil {
		return zero, nil, err
	}
	v, ok := h.value.(T)
	if !ok || h.kind != kind {
		h.Release()
		return zero, nil, errs.Newf("LookupAs", errs.CodeNotFound,
			"group id %q is a %s (%T), not a %s", groupID, h.kind, h.value, kind)
	}
	return v, h, nil
}

// Unregister unbinds groupID and drops the registry's reference
func (r *Registry) Unregister(groupID string) error {
	r.mu.Lock()
	h, ok := r.entries[groupID]
	if ok {
		delete(r.entries, groupID)
	}
	r.mu.Unlock()
	if !ok {
		return errs.Newf("Unregister", errs.CodeNotFound, "group id %q not bound", groupID)
	}
	return r.release(h)
}

// ReleaseAll unbinds every group id, ending the lifetime of resources a
// test group shared. Handles still held elsewhere survive until released.
func (r *Registry) ReleaseAll() error {
	var first error
	for _, id := range r.GroupIDs() {
		if err := r.Unregister(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Refs returns the reference count for groupID, 0 when unbound
func (r *Registry) Refs(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.entries[groupID]; ok {
		return h.refs
	}
	return 0
}

// GroupIDs lists bound ids in sorted order
func (r *Registry) GroupIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) release(h *Handle) error {
	r.mu.Lock()
	if h.refs == 0 {
		r.mu.Unlock()
		return errs.Newf("Release", errs.CodeFrameworkBug, "group id %q released too often", h.id)
	}
	h.refs--
	last := h.refs == 0
	if last {
		delete(r.live, h)
	}
	r.mu.Unlock()

	if !last {
		return nil
	}
	return h.destroy()
}

func (h *Handle) destroy() error {
	if h.freed {
		return nil
	}
	h.freed = true
	if f, ok := h.value.(Freer); ok {
		if err := f.Free(); err != nil {
			return errs.WrapCode("Release", errs.CodeCleanup, err)
		}
	}
	h.reg.logger.Debug("resource destroyed", "group_id", h.id, "kind", h.kind.String())
	return nil
}

// SetMetaAllocSize fixes the size of metadata buffers handed out by
// AllocMetaBuffer
func (r *Registry) SetMetaAllocSize(n uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n == 0 || n > constants.MaxMetaAllocSize {
		return errs.Newf("SetMetaAllocSize", errs.CodeInvalidParameters,
			"meta alloc size %d outside 1..%d", n, constants.MaxMetaAllocSize)
	}
	r.metaSize = n
	return nil
}

// MetaAllocSize returns the configured size, 0 when unset
func (r *Registry) MetaAllocSize() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metaSize
}

// AllocMetaBuffer allocates a metadata buffer of the configured size. The
// registry frees it at Shutdown if the caller did not.
func (r *Registry) AllocMetaBuffer() (*memory.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive("AllocMetaBuffer"); err != nil {
		return nil, err
	}
	if r.metaSize == 0 {
		return nil, errs.New("AllocMetaBuffer", errs.CodeFrameworkBug, "meta alloc size never set")
	}
	buf, err := memory.Alloc(int(r.metaSize))
	if err != nil {
		return nil, errs.Wrap("AllocMetaBuffer", err)
	}
	r.pruneMetaBufs()
	r.metaBufs = append(r.metaBufs, buf)
	return buf, nil
}

// pruneMetaBufs forgets buffers their callers already freed
func (r *Registry) pruneMetaBufs() {
	kept := r.metaBufs[:0]
	for _, b := range r.metaBufs {
		if !b.Freed() {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(r.metaBufs); i++ {
		r.metaBufs[i] = nil
	}
	r.metaBufs = kept
}

// LiveMetaBuffers returns how many metadata buffers are allocated and not
// yet freed
func (r *Registry) LiveMetaBuffers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneMetaBufs()
	return len(r.metaBufs)
}

// Shutdown ends the run. Any handle still referenced, bound or already
// unbound, is force-released and reported as a cleanup error.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	leaked := make([]*Handle, 0, len(r.live))
	for h := range r.live {
		leaked = append(leaked, h)
	}
	r.entries = make(map[string]*Handle)
	r.live = make(map[*Handle]struct{})
	metaBufs := r.metaBufs
	r.metaBufs = nil
	r.mu.Unlock()

	for _, b := range metaBufs {
		b.Free()
	}
	if len(leaked) == 0 {
		return nil
	}

	sort.Slice(leaked, func(i, j int) bool { return leaked[i].id < leaked[j].id })
	names := make([]string, len(leaked))
	for i, h := range leaked {
		names[i] = fmt.Sprintf("%s(%s refs=%d)", h.id, h.kind, h.refs)
		h.refs = 0
		if err := h.destroy(); err != nil {
			r.logger.Warn("force release failed", "group_id", h.id, "error", err)
		}
	}
	r.logger.Warn("resources leaked at shutdown", "groups", names)
	return errs.Newf("Shutdown", errs.CodeCleanup, "leaked groups: %s", strings.Join(names, ", "))
}
