package librarian

import (
	"sort"
	"testing"
	"time"

	"github.com/franz/sysex-librarian/internal/synth"
)

func TestBankNormalization(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 3)
	bankNo := sy.Bank(0)
	bank := NewSynthBank(sy, bankNo, time.Time{})

	// Patches come in carrying positions 2 and 0; normalization
	// renumbers them to their slot in the bank
	a := makeTestHolder(sy, "A", bankNo, 2, nil)
	b := makeTestHolder(sy, "B", bankNo, 0, nil)
	bank.SetPatches([]*PatchHolder{a, b})

	patches := bank.Patches()
	if len(patches) != 3 {
		t.Fatalf("expected the bank to be padded to size 3, got %d", len(patches))
	}
	if patches[0].Name() != "A" || patches[1].Name() != "B" {
		t.Errorf("unexpected bank content: %s, %s", patches[0].Name(), patches[1].Name())
	}
	for i, patch := range patches {
		if got := patch.Program.ToZeroBasedDiscardingBank(); got != i {
			t.Errorf("position %d carries program %d", i, got)
		}
	}
	if patches[2].Patch != nil {
		t.Error("expected an empty holder in the padded slot")
	}
}

func TestBankRejectsForeignSynthPatches(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 2)
	other := newTestSynth("OtherSynth", 1, 2)
	bank := NewSynthBank(sy, sy.Bank(0), time.Time{})

	good := makeTestHolder(sy, "Good", sy.Bank(0), 0, nil)
	bank.SetPatches([]*PatchHolder{good})
	if bank.Len() != 2 {
		t.Fatalf("expected normalized bank of 2, got %d", bank.Len())
	}

	foreign := makeTestHolder(other, "Foreign", other.Bank(0), 0, nil)
	bank.SetPatches([]*PatchHolder{foreign})
	// The update is refused, the previous content stays
	if bank.Patches()[0].Name() != "Good" {
		t.Error("expected the foreign update to be rejected")
	}
}

func TestCopyListToPosition(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 4)
	other := newTestSynth("OtherSynth", 1, 4)
	bankNo := sy.Bank(0)
	bank := NewSynthBank(sy, bankNo, time.Time{})

	var initial []*PatchHolder
	for i := 0; i < 4; i++ {
		initial = append(initial, makeTestHolder(sy, "Initial", bankNo, i, nil))
	}
	bank.SetPatches(initial)
	bank.ClearDirty()

	donor := NewPatchList("Donor")
	donor.SetPatches([]*PatchHolder{
		makeTestHolder(sy, "DonorOne", bankNo, 0, sysexPayload(0x51)),
		makeTestHolder(other, "Foreign", other.Bank(0), 0, sysexPayload(0x52)),
		makeTestHolder(sy, "DonorTwo", bankNo, 1, sysexPayload(0x53)),
	})

	bank.CopyListToPosition(synth.ProgramFromZeroBasedWithBank(bankNo, 1), donor)

	patches := bank.Patches()
	if patches[1].Name() != "DonorOne" || patches[2].Name() != "DonorTwo" {
		t.Errorf("expected donors at positions 1 and 2, got %s and %s", patches[1].Name(), patches[2].Name())
	}
	if patches[3].Name() != "Initial" {
		t.Errorf("position 3 must be untouched, got %s", patches[3].Name())
	}

	dirty := bank.DirtyPositions()
	sort.Ints(dirty)
	if len(dirty) != 2 || dirty[0] != 1 || dirty[1] != 2 {
		t.Errorf("expected dirty positions {1, 2}, got %v", dirty)
	}
}

func TestBankWritableWithoutDescriptors(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 2)
	bank := NewSynthBank(sy, sy.Bank(0), time.Time{})
	if !bank.IsWritable() {
		t.Error("without bank descriptors writability cannot be ruled out")
	}
}

func TestROMBankNotWritable(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 2)
	sy.Capabilities.BankDescriptors = []synth.BankDescriptor{
		{Name: "RAM", Size: 2},
		{Name: "ROM", Size: 2, ROM: true},
	}
	ram := NewUserBank("ub-1", "My RAM", sy, sy.Bank(0))
	rom := NewUserBank("ub-2", "Factory", sy, sy.Bank(1))
	if !ram.IsWritable() {
		t.Error("RAM bank must be writable")
	}
	if rom.IsWritable() {
		t.Error("ROM bank must not be writable")
	}
}

func TestChangePatchAtPositionTracksDirty(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 2)
	bankNo := sy.Bank(0)
	bank := NewSynthBank(sy, bankNo, time.Time{})
	bank.SetPatches([]*PatchHolder{
		makeTestHolder(sy, "One", bankNo, 0, sysexPayload(0x61)),
		makeTestHolder(sy, "Two", bankNo, 1, sysexPayload(0x62)),
	})
	bank.ClearDirty()

	replacement := makeTestHolder(sy, "Replacement", bankNo, 1, sysexPayload(0x63))
	bank.ChangePatchAtPosition(synth.ProgramFromZeroBasedWithBank(bankNo, 1), replacement)

	if !bank.IsPositionDirty(1) {
		t.Error("expected position 1 to be dirty")
	}
	if bank.IsPositionDirty(0) {
		t.Error("position 0 was not touched")
	}
	if bank.Patches()[1].Name() != "Replacement" {
		t.Errorf("expected the replacement at position 1, got %s", bank.Patches()[1].Name())
	}
}
