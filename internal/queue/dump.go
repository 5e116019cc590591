package queue

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// Snapshot summarizes ring state for machine-readable dumps
type Snapshot struct {
	Kind        string `json:"kind"`
	ID          uint16 `json:"id"`
	Depth       uint32 `json:"depth"`
	EntrySize   uint32 `json:"entry_size"`
	Head        uint32 `json:"head"`
	Tail        uint32 `json:"tail"`
	Phase       *uint8 `json:"phase,omitempty"`
	Outstanding uint32 `json:"outstanding"`
	PairedID    uint16 `json:"paired_id"`
}

func (sq *SQ) Snapshot() any {
	return Snapshot{
		Kind:        sq.kind.String(),
		ID:          sq.id,
		Depth:       sq.depth,
		EntrySize:   sq.entrySize,
		Head:        sq.head,
		Tail:        sq.tail,
		Outstanding: sq.outstanding,
		PairedID:    sq.cqID,
	}
}

func (cq *CQ) Snapshot() any {
	phase := cq.phase
	return Snapshot{
		Kind:        cq.kind.String(),
		ID:          cq.id,
		Depth:       cq.depth,
		EntrySize:   cq.entrySize,
		Head:        cq.head,
		Tail:        cq.tail,
		Phase:       &phase,
		Outstanding: cq.arrived(),
	}
}

func (q *Queue) dumpHeader(w *bufio.Writer, extra string) {
	fmt.Fprintf(w, "%s %d: depth=%d entry_size=%d head=%d tail=%d%s\n",
		q.kind, q.id, q.depth, q.entrySize, q.head, q.tail, extra)
}

func dumpHex(w *bufio.Writer, raw []byte) {
	for off := 0; off < len(raw); off += 16 {
		end := min(off+16, len(raw))
		fmt.Fprintf(w, "    %04x: %s\n", off, hex.EncodeToString(raw[off:end]))
	}
}

// Dump writes every ring slot with its decoded fields
func (sq *SQ) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	sq.dumpHeader(bw, fmt.Sprintf(" outstanding=%d cqid=%d", sq.outstanding, sq.cqID))

	var e nvme.SubmissionEntry
	for i := uint32(0); i < sq.depth; i++ {
		raw := sq.slot(i)
		if err := nvme.Unmarshal(raw, &e); err != nil {
			return err
		}
		fmt.Fprintf(bw, "  [%d] opc=%#02x cid=%d nsid=%d prp1=%#x prp2=%#x mptr=%#x cdw10=%#x cdw11=%#x cdw12=%#x\n",
			i, e.Opcode, e.CID, e.NSID, e.PRP1, e.PRP2, e.MPTR, e.CDW10, e.CDW11, e.CDW12)
		dumpHex(bw, raw)
	}
	return bw.Flush()
}

// Dump writes every ring slot with its decoded fields
func (cq *CQ) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cq.dumpHeader(bw, fmt.Sprintf(" phase=%d ready=%d", cq.phase, cq.arrived()))

	var ce nvme.CompletionEntry
	for i := uint32(0); i < cq.depth; i++ {
		raw := cq.slot(i)
		if err := nvme.Unmarshal(raw, &ce); err != nil {
			return err
		}
		fmt.Fprintf(bw, "  [%d] dw0=%#x sqhd=%d sqid=%d cid=%d p=%d sct=%d sc=%#02x m=%v dnr=%v\n",
			i, ce.DW0, ce.SQHD, ce.SQID, ce.CID, ce.Phase(), ce.SCT(), ce.SC(), ce.More(), ce.DNR())
		dumpHex(bw, raw)
	}
	return bw.Flush()
}
