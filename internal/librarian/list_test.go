package librarian

import (
	"testing"

	"github.com/franz/sysex-librarian/internal/synth"
)

func TestListInsertionPreservesOrder(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 32)
	bank := sy.Bank(0)

	list := NewPatchList("Favorites")
	first := makeTestHolder(sy, "First", bank, 0, nil)
	second := makeTestHolder(sy, "Second", bank, 1, nil)

	list.SetPatches([]*PatchHolder{first})
	list.AddPatch(second)

	patches := list.Patches()
	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	if patches[0].Name() != "First" || patches[1].Name() != "Second" {
		t.Errorf("unexpected order: %s, %s", patches[0].Name(), patches[1].Name())
	}
}

func TestInsertAtTopRemovesDuplicates(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 32)
	bank := sy.Bank(0)
	sharedBytes := sysexPayload(0x21)

	list := NewPatchList("Dupes")
	original := makeTestHolder(sy, "Original", bank, 0, sharedBytes)
	list.SetPatches([]*PatchHolder{original})

	replacement := makeTestHolder(sy, "Replacement", bank, 1, sharedBytes)
	list.InsertAtTopAndRemoveDuplicates(replacement)

	patches := list.Patches()
	if len(patches) != 1 {
		t.Fatalf("expected the duplicate to be removed, got %d entries", len(patches))
	}
	if patches[0].Name() != "Replacement" {
		t.Errorf("expected Replacement at the top, got %s", patches[0].Name())
	}

	// The same bytes on a different synth are a different patch
	other := newTestSynth("OtherSynth", 4, 32)
	foreign := makeTestHolder(other, "Foreign", other.Bank(0), 0, sharedBytes)
	list.InsertAtTopAndRemoveDuplicates(foreign)

	patches = list.Patches()
	if len(patches) != 2 {
		t.Fatalf("expected 2 entries after foreign insert, got %d", len(patches))
	}
	if patches[0].Name() != "Foreign" || patches[1].Name() != "Replacement" {
		t.Errorf("unexpected order: %s, %s", patches[0].Name(), patches[1].Name())
	}
}

func TestListRename(t *testing.T) {
	list := NewPatchList("Old Name")
	list.SetName("New Name")
	if list.Name() != "New Name" {
		t.Errorf("expected rename to stick, got %s", list.Name())
	}
	if list.ID() == "" {
		t.Error("expected a generated list id")
	}
}

func TestHolderRenameWithoutStoredNameCapability(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 32)
	holder := makeTestHolder(sy, "Initial", sy.Bank(0), 0, nil)
	holder.SetName("Renamed")
	if holder.Name() != "Renamed" {
		t.Errorf("expected holder-only rename, got %s", holder.Name())
	}
}

func TestHolderRenameWithStoredNameCapability(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 32)
	sy.Capabilities.RenamePatch = func(d *synth.DataFile, name string) string {
		// The device stores 4 characters only
		if len(name) > 4 {
			name = name[:4]
		}
		return name
	}
	holder := makeTestHolder(sy, "Init", sy.Bank(0), 0, nil)
	holder.SetName("Supersaw")
	if holder.Name() != "Supe" {
		t.Errorf("expected the device-limited name, got %s", holder.Name())
	}
}

func TestFingerprintIgnoresRename(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 32)
	holder := makeTestHolder(sy, "A", sy.Bank(0), 0, nil)
	before := holder.MD5()
	holder.SetName("B")
	if holder.MD5() != before {
		t.Error("fingerprint must be stable across renames")
	}
}
