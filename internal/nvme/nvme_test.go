package nvme

import (
	"encoding/binary"
	"testing"
	"time"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"SubmissionEntry", unsafe.Sizeof(SubmissionEntry{}), 64},
		{"CompletionEntry", unsafe.Sizeof(CompletionEntry{}), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

// Field offsets must match the protocol layout, not Go struct order
func TestSubmissionLayout(t *testing.T) {
	e := &SubmissionEntry{
		Opcode: NVMWrite,
		CID:    0xBEEF,
		NSID:   1,
		MPTR:   0x1000,
		PRP1:   0x2000,
		PRP2:   0x3000,
		CDW10:  0x10,
		CDW12:  0x7,
	}
	buf := Marshal(e)

	if buf[0] != NVMWrite {
		t.Errorf("opcode byte = %#x", buf[0])
	}
	if got := binary.LittleEndian.Uint16(buf[2:]); got != 0xBEEF {
		t.Errorf("CID = %#x, want 0xbeef", got)
	}
	if got := binary.LittleEndian.Uint64(buf[16:]); got != 0x1000 {
		t.Errorf("MPTR = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(buf[24:]); got != 0x2000 {
		t.Errorf("PRP1 = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(buf[48:]); got != 7 {
		t.Errorf("CDW12 = %d", got)
	}

	var back SubmissionEntry
	if err := Unmarshal(buf, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != *e {
		t.Errorf("decoded %+v, want %+v", back, *e)
	}
}

func TestCompletionStatusBits(t *testing.T) {
	var ce CompletionEntry
	ce.SetPhase(1)
	ce.SetStatus(StatusInvalidQueueID, true)

	if ce.Phase() != 1 {
		t.Errorf("phase lost by SetStatus")
	}
	if ce.SCT() != 1 || ce.SC() != 0x01 {
		t.Errorf("SCT/SC = %d/%#x, want 1/0x1", ce.SCT(), ce.SC())
	}
	if ce.StatusValue() != StatusInvalidQueueID {
		t.Errorf("StatusValue = %#x, want %#x", ce.StatusValue(), StatusInvalidQueueID)
	}
	if !ce.DNR() || ce.More() {
		t.Errorf("DNR/More = %v/%v", ce.DNR(), ce.More())
	}

	ce.SetPhase(0)
	if ce.StatusValue() != StatusInvalidQueueID {
		t.Errorf("SetPhase clobbered status")
	}

	buf := Marshal(&ce)
	if CompletionPhase(buf) != 0 {
		t.Errorf("CompletionPhase = %d, want 0", CompletionPhase(buf))
	}
	// Status word is the upper half of DW3
	if got := binary.LittleEndian.Uint32(buf[12:]) >> 16; uint16(got) != ce.Status {
		t.Errorf("DW3 upper = %#x, want %#x", got, ce.Status)
	}
}

func TestRegisters(t *testing.T) {
	capReg := NewCapabilities(1023, 20, true)
	if capReg.MQES() != 1023 {
		t.Errorf("MQES = %d", capReg.MQES())
	}
	if !capReg.ContiguousRequired() || !capReg.SupportsNVM() {
		t.Errorf("CQR/CSS not set: %#x", uint64(capReg))
	}
	if capReg.Timeout() != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", capReg.Timeout())
	}

	cc := ControllerConfig(0).WithEntrySizes(SQESLog2, CQESLog2).WithEnable(true)
	if !cc.Enabled() || cc.IOSQES() != 6 || cc.IOCQES() != 4 {
		t.Errorf("CC = %#x", uint32(cc))
	}
	if cc.WithEnable(false).Enabled() {
		t.Error("WithEnable(false) left EN set")
	}

	asq, acq := SplitAdminQueueAttributes(AdminQueueAttributes(16, 32))
	if asq != 16 || acq != 32 {
		t.Errorf("AQA round trip = %d/%d", asq, acq)
	}
}

func TestIdentifyLayouts(t *testing.T) {
	ctrl := &IdentifyController{
		VID:          0x1b36,
		SerialNumber: "SIM0001",
		ModelNumber:  "nvmecheck simulated controller",
		FirmwareRev:  "1.0",
		SQES:         0x66,
		CQES:         0x44,
		NN:           3,
	}
	buf := Marshal(ctrl)
	if len(buf) != IdentifySize {
		t.Fatalf("identify size = %d", len(buf))
	}
	if buf[512] != 0x66 || buf[513] != 0x44 {
		t.Errorf("SQES/CQES bytes = %#x/%#x", buf[512], buf[513])
	}
	var c IdentifyController
	if err := Unmarshal(buf, &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c != *ctrl {
		t.Errorf("decoded %+v, want %+v", c, *ctrl)
	}
	if c.RequiredSQES() != 6 || c.RequiredCQES() != 4 {
		t.Errorf("required sizes = %d/%d", c.RequiredSQES(), c.RequiredCQES())
	}

	ns := &IdentifyNamespace{NSZE: 2048, NCAP: 2048, FLBAS: 1, DPS: 3}
	ns.LBAF[1] = LBAFormat{MS: 8, LBADS: 9}
	buf = Marshal(ns)
	if buf[29] != 3 || buf[26] != 1 {
		t.Errorf("DPS/FLBAS bytes = %d/%d", buf[29], buf[26])
	}
	if got := binary.LittleEndian.Uint32(buf[132:]); got != 8|9<<16 {
		t.Errorf("LBAF1 dword = %#x", got)
	}
	var n IdentifyNamespace
	if err := Unmarshal(buf, &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	f := n.FormattedLBA()
	if f.MS != 8 || f.DataSize() != 512 || n.ProtectionType() != 3 {
		t.Errorf("formatted LBA = %+v prot=%d", f, n.ProtectionType())
	}
}

func TestUnmarshalShort(t *testing.T) {
	if err := Unmarshal(make([]byte, 10), &CompletionEntry{}); err != ErrInsufficientData {
		t.Errorf("short CE: %v", err)
	}
	if err := Unmarshal(make([]byte, 63), &SubmissionEntry{}); err != ErrInsufficientData {
		t.Errorf("short SQE: %v", err)
	}
	if err := Unmarshal(make([]byte, 64), new(int)); err != ErrUnsupportedType {
		t.Errorf("unknown type: %v", err)
	}
}
