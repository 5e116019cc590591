package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
)

type fakeQueue struct {
	id    int
	freed int
	err   error
}

func (q *fakeQueue) Free() error {
	q.freed++
	return q.err
}

func newActive(t *testing.T) *Registry {
	r := New(logging.Nop())
	require.NoError(t, r.Init())
	return r
}

func TestRequiresInit(t *testing.T) {
	r := New(logging.Nop())
	_, err := r.Register("A", KindOther, 1)
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug))
	_, err = r.Lookup("A")
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug))

	require.NoError(t, r.Init())
	assert.True(t, errs.IsCode(r.Init(), errs.CodeFrameworkBug), "double Init")
}

func TestRegisterDuplicate(t *testing.T) {
	r := newActive(t)
	_, err := r.Register("ASQ_GROUP_ID", KindASQ, &fakeQueue{})
	require.NoError(t, err)
	_, err = r.Register("ASQ_GROUP_ID", KindASQ, &fakeQueue{})
	assert.True(t, errs.IsCode(err, errs.CodeDuplicateID), "got %v", err)
	assert.ErrorIs(t, err, errs.ErrDuplicateID)

	_, err = r.Register("", KindASQ, &fakeQueue{})
	assert.True(t, errs.IsCode(err, errs.CodeInvalidParameters))
}

func TestLookupNotFound(t *testing.T) {
	r := newActive(t)
	_, err := r.Lookup("IOSQ_CONTIG_GROUP_ID")
	assert.True(t, errs.IsCode(err, errs.CodeNotFound), "got %v", err)
	assert.True(t, errs.IsCode(r.Unregister("missing"), errs.CodeNotFound))
}

func TestLookupIdentityStable(t *testing.T) {
	r := newActive(t)
	q := &fakeQueue{id: 7}
	reg, err := r.Register("IOCQ", KindIOCQ, q)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h, err := r.Lookup("IOCQ")
		require.NoError(t, err)
		assert.Same(t, reg, h)
		assert.Same(t, q, h.Value())
		require.NoError(t, h.Release())
	}
	assert.Equal(t, 1, r.Refs("IOCQ"))
	assert.Zero(t, q.freed)

	require.NoError(t, r.Unregister("IOCQ"))
	assert.Equal(t, 1, q.freed)
	assert.Zero(t, r.Refs("IOCQ"))
}

func TestUnregisterWhileHeld(t *testing.T) {
	r := newActive(t)
	q := &fakeQueue{}
	_, err := r.Register("IOSQ", KindIOSQ, q)
	require.NoError(t, err)

	h, err := r.Lookup("IOSQ")
	require.NoError(t, err)
	require.NoError(t, r.Unregister("IOSQ"))
	assert.Zero(t, q.freed, "still held by a test case")

	_, err = r.Lookup("IOSQ")
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	require.NoError(t, h.Release())
	assert.Equal(t, 1, q.freed)

	assert.True(t, errs.IsCode(h.Release(), errs.CodeFrameworkBug), "over-release")
}

func TestReleaseFreeError(t *testing.T) {
	r := newActive(t)
	_, err := r.Register("X", KindOther, &fakeQueue{err: errors.New("munmap failed")})
	require.NoError(t, err)
	err = r.Unregister("X")
	assert.True(t, errs.IsCode(err, errs.CodeCleanup), "got %v", err)
}

func TestLookupAs(t *testing.T) {
	r := newActive(t)
	q := &fakeQueue{id: 3}
	_, err := r.Register("ACQ", KindACQ, q)
	require.NoError(t, err)

	got, h, err := LookupAs[*fakeQueue](r, "ACQ", KindACQ)
	require.NoError(t, err)
	assert.Equal(t, 3, got.id)
	require.NoError(t, h.Release())

	_, _, err = LookupAs[*fakeQueue](r, "ACQ", KindASQ)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
	_, _, err = LookupAs[string](r, "ACQ", KindACQ)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
	assert.Equal(t, 1, r.Refs("ACQ"), "failed lookups must not leak references")
}

func TestShutdownReportsLeaks(t *testing.T) {
	r := newActive(t)
	a, b := &fakeQueue{}, &fakeQueue{}
	_, err := r.Register("B_GROUP", KindIOSQ, b)
	require.NoError(t, err)
	_, err = r.Register("A_GROUP", KindIOCQ, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"A_GROUP", "B_GROUP"}, r.GroupIDs())

	err = r.Shutdown()
	require.True(t, errs.IsCode(err, errs.CodeCleanup), "got %v", err)
	assert.Contains(t, err.Error(), "A_GROUP(IOCQ refs=1), B_GROUP(IOSQ refs=1)")
	assert.Equal(t, 1, a.freed)
	assert.Equal(t, 1, b.freed)
	assert.False(t, r.Active())

	assert.NoError(t, r.Shutdown())
	require.NoError(t, r.Init())
	assert.Empty(t, r.GroupIDs())
	assert.NoError(t, r.Shutdown())
}

func TestMetaAllocSize(t *testing.T) {
	r := newActive(t)
	_, err := r.AllocMetaBuffer()
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug))

	assert.True(t, errs.IsCode(r.SetMetaAllocSize(0), errs.CodeInvalidParameters))
	assert.True(t, errs.IsCode(r.SetMetaAllocSize(64*1024+1), errs.CodeInvalidParameters))
	require.NoError(t, r.SetMetaAllocSize(16))
	assert.Equal(t, uint32(16), r.MetaAllocSize())

	live := memory.Live()
	buf, err := r.AllocMetaBuffer()
	require.NoError(t, err)
	assert.Equal(t, 16, buf.Len())
	assert.Equal(t, live+1, memory.Live())

	require.NoError(t, r.Shutdown())
	assert.Equal(t, live, memory.Live())
}

func TestMetaBuffersFreedByCallerAreForgotten(t *testing.T) {
	r := newActive(t)
	require.NoError(t, r.SetMetaAllocSize(16))

	for i := 0; i < 100; i++ {
		buf, err := r.AllocMetaBuffer()
		require.NoError(t, err)
		require.NoError(t, buf.Free())
	}
	kept, err := r.AllocMetaBuffer()
	require.NoError(t, err)
	assert.Equal(t, 1, r.LiveMetaBuffers())
	assert.Len(t, r.metaBufs, 1)

	require.NoError(t, r.Shutdown())
	assert.True(t, kept.Freed())
}

func TestReleaseAll(t *testing.T) {
	r := newActive(t)
	a, b := &fakeQueue{}, &fakeQueue{}
	_, err := r.Register("A", KindIOSQ, a)
	require.NoError(t, err)
	_, err = r.Register("B", KindIOCQ, b)
	require.NoError(t, err)
	held, err := r.Lookup("B")
	require.NoError(t, err)

	require.NoError(t, r.ReleaseAll())
	assert.Empty(t, r.GroupIDs())
	assert.Equal(t, 1, a.freed)
	assert.Zero(t, b.freed)

	require.NoError(t, held.Release())
	assert.Equal(t, 1, b.freed)
	assert.NoError(t, r.Shutdown())
}

func TestShutdownReleasesUnboundHolders(t *testing.T) {
	r := newActive(t)
	q := &fakeQueue{}
	_, err := r.Register("g", KindIOCQ, q)
	require.NoError(t, err)
	_, err = r.Lookup("g")
	require.NoError(t, err)
	require.NoError(t, r.Unregister("g"))
	assert.Empty(t, r.GroupIDs())

	err = r.Shutdown()
	require.True(t, errs.IsCode(err, errs.CodeCleanup), "got %v", err)
	assert.Contains(t, err.Error(), "g(IOCQ refs=1)")
	assert.Equal(t, 1, q.freed)
}

func TestShutdownAfterReleaseAllReportsHeld(t *testing.T) {
	r := newActive(t)
	sq, cq := &fakeQueue{}, &fakeQueue{}
	_, err := r.Register("ASQ", KindASQ, sq)
	require.NoError(t, err)
	_, err = r.Register("ACQ", KindACQ, cq)
	require.NoError(t, err)
	held, err := r.Lookup("ASQ")
	require.NoError(t, err)

	require.NoError(t, r.ReleaseAll())
	assert.Equal(t, 1, cq.freed)
	assert.Zero(t, sq.freed)

	err = r.Shutdown()
	require.True(t, errs.IsCode(err, errs.CodeCleanup), "got %v", err)
	assert.Contains(t, err.Error(), "ASQ(ASQ refs=1)")
	assert.NotContains(t, err.Error(), "ACQ")
	assert.Equal(t, 1, sq.freed)
	assert.True(t, errs.IsCode(held.Release(), errs.CodeFrameworkBug), "force-released handle")
}
