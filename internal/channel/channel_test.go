package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// regChannel only implements register access; CSTS turns ready after a
// fixed number of reads.
type regChannel struct {
	Channel
	readsUntilReady int
	reads           int
	fatal           bool
}

func (c *regChannel) ReadRegister(reg Register) (uint64, error) {
	switch reg {
	case RegCAP:
		return uint64(nvme.NewCapabilities(63, 4, true)), nil
	case RegCSTS:
		c.reads++
		var v uint64
		if c.fatal {
			v |= nvme.CSTSFatal
		}
		if c.reads > c.readsUntilReady {
			v |= nvme.CSTSReady
		}
		return v, nil
	}
	return 0, nil
}

func TestWaitReady(t *testing.T) {
	ch := &regChannel{readsUntilReady: 3}
	require.NoError(t, WaitReady(context.Background(), ch, true, time.Second))
	assert.Equal(t, 4, ch.reads)
}

func TestWaitReadyTimeout(t *testing.T) {
	ch := &regChannel{readsUntilReady: 1 << 30}
	err := WaitReady(context.Background(), ch, true, 5*time.Millisecond)
	assert.True(t, errs.IsCode(err, errs.CodeTimeout), "got %v", err)
}

func TestWaitReadyFatal(t *testing.T) {
	ch := &regChannel{fatal: true}
	err := WaitReady(context.Background(), ch, false, time.Second)
	assert.True(t, errs.IsCode(err, errs.CodeTransport), "got %v", err)
}

func TestWaitReadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := &regChannel{readsUntilReady: 1 << 30}
	err := WaitReady(ctx, ch, true, time.Minute)
	assert.True(t, errs.IsCode(err, errs.CodeTimeout), "got %v", err)
}

func TestCapabilities(t *testing.T) {
	c, err := Capabilities(&regChannel{})
	require.NoError(t, err)
	assert.Equal(t, uint16(63), c.MQES())
	assert.Equal(t, 2*time.Second, c.Timeout())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "CSTS", RegCSTS.String())
	assert.Equal(t, "REG(0x1000)", Register(0x1000).String())
	assert.Equal(t, "cq-head", DoorbellCQHead.String())
	assert.Equal(t, "enable", StateEnable.String())
}

func TestBarrier(t *testing.T) {
	// Fences have no observable effect beyond not panicking
	Sfence()
	Mfence()
}
