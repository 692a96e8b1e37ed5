package vmm

import (
	"testing"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected entry to have the present and RW flags set")
	}
	if pte.HasFlags(FlagUserAccessible) {
		t.Fatal("expected entry not to have the user flag set")
	}
	if !pte.HasAnyFlag(FlagUserAccessible | FlagRW) {
		t.Fatal("expected HasAnyFlag to match on RW")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatal("expected the RW flag to be cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatal("expected the present flag to survive clearing RW")
	}
}

func TestPageTableEntryNXEncoding(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagNoExecute)
	if uint64(pte)&(1<<63) == 0 {
		t.Fatal("expected NX to be encoded in bit 63")
	}
}

func TestPageTableEntryFrameRoundTrip(t *testing.T) {
	specs := []pmm.Frame{
		pmm.Frame(0),
		pmm.Frame(1),
		pmm.Frame(0xdeadb),
		pmm.Frame((1 << 40) - 1),
	}

	for specIndex, frame := range specs {
		var pte pageTableEntry
		pte.SetFlags(FlagPresent | FlagNoExecute)
		pte.SetFrame(frame)

		if got := pte.Frame(); got != frame {
			t.Errorf("[spec %d] expected Frame() to return %d; got %d", specIndex, frame, got)
		}
		if !pte.HasFlags(FlagPresent | FlagNoExecute) {
			t.Errorf("[spec %d] expected SetFrame to preserve the entry flags", specIndex)
		}
	}
}
