package librarian

import (
	"strings"
	"testing"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
)

func TestSourceInfoSynthRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 17, 20, 30, 0, 0, time.UTC)
	original := FromSynthSource(ts, synth.BankFromZeroBased(2, 32))

	restored, err := ParseSourceInfo(original.ToJSON())
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if restored.Kind != SourceSynth {
		t.Fatal("kind lost in round trip")
	}
	if !restored.Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: %v", restored.Timestamp)
	}
	if !restored.Bank.IsValid() || restored.Bank.ToZeroBased() != 2 {
		t.Errorf("bank changed: %v", restored.Bank)
	}
}

func TestSourceInfoFileRoundTrip(t *testing.T) {
	original := FromFileSource("bank.syx", "/home/user/bank.syx", synth.ProgramFromZeroBased(7))
	restored, err := ParseSourceInfo(original.ToJSON())
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if restored.Kind != SourceFile || restored.Filename != "bank.syx" || restored.FullPath != "/home/user/bank.syx" {
		t.Errorf("file info changed: %+v", restored)
	}
	if restored.Program.ToZeroBasedWithBank() != 7 {
		t.Errorf("program changed: %v", restored.Program)
	}
}

func TestSourceInfoBulkWrapsInner(t *testing.T) {
	inner := FromFileSource("a.syx", "/a.syx", synth.InvalidProgram())
	original := FromBulkSource(time.Now(), inner)
	restored, err := ParseSourceInfo(original.ToJSON())
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if restored.Kind != SourceBulk || restored.Inner == nil || restored.Inner.Filename != "a.syx" {
		t.Errorf("bulk info changed: %+v", restored)
	}
}

func TestEditBufferImportDetection(t *testing.T) {
	editBuffer := FromSynthSource(time.Now(), synth.InvalidBank())
	if !IsEditBufferImport(editBuffer) {
		t.Error("synth import without a bank is an edit buffer import")
	}
	banked := FromSynthSource(time.Now(), synth.BankFromZeroBased(0, 8))
	if IsEditBufferImport(banked) {
		t.Error("a banked import is not an edit buffer import")
	}
}

func TestImportIDDependsOnProvenance(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	a := FromFileSource("a.syx", "/a.syx", synth.InvalidProgram())
	b := FromFileSource("b.syx", "/b.syx", synth.InvalidProgram())
	if a.ImportID(sy) == b.ImportID(sy) {
		t.Error("different files must get different import ids")
	}
	if a.ImportID(sy) != a.ImportID(sy) {
		t.Error("import ids must be stable")
	}
}

func TestDisplayStringMentionsBank(t *testing.T) {
	sy := newTestSynth("TestSynth", 2, 8)
	info := FromSynthSource(time.Now(), sy.Bank(1))
	display := info.DisplayString(sy, false)
	if !strings.Contains(display, "Bank 2") {
		t.Errorf("expected the friendly bank name in %q", display)
	}
	editBuffer := FromSynthSource(time.Now(), synth.InvalidBank())
	if !strings.Contains(editBuffer.DisplayString(sy, false), "edit buffer") {
		t.Errorf("expected edit buffer marker in %q", editBuffer.DisplayString(sy, false))
	}
}

func TestSniffSynthIdentifiesOwner(t *testing.T) {
	claimer := newTestSynth("Claimer", 1, 8)
	claimer.Capabilities.IsOwnSysex = func(msg midi.Message) bool {
		return msg.IsSysEx() && len(msg) > 1 && msg[1] == 0x7D
	}
	silent := newTestSynth("Silent", 1, 8)
	silent.Capabilities.IsOwnSysex = func(msg midi.Message) bool { return false }

	messages := []midi.Message{midi.Message(sysexPayload(0x01))}
	found := SniffSynth(messages, []*synth.Synth{silent, claimer})
	if found == nil || found.Name != "Claimer" {
		t.Fatalf("expected Claimer to be identified, got %v", found)
	}
	if SniffSynth(nil, []*synth.Synth{claimer, silent}) != nil {
		t.Error("no messages means no claimant")
	}
}
