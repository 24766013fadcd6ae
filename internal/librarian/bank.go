package librarian

import (
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// SynthBank is a patch list bound to a specific (synth, bank) with
// exactly bank-size slots. Empty slots are holders with a nil patch.
// Positions modified since the last sync with the instrument are
// tracked in the dirty set.
type SynthBank struct {
	PatchList
	synth      *synth.Synth
	bankNo     synth.BankNumber
	LastSynced time.Time
	dirty      map[int]struct{}
}

// SynthBankID is the well-known id of the live bank state of a synth
func SynthBankID(sy *synth.Synth, bank synth.BankNumber) string {
	return fmt.Sprintf("%s-bank-%d", sy.Name, bank.ToZeroBased())
}

// NewSynthBank creates the live bank list for a synth bank
func NewSynthBank(sy *synth.Synth, bank synth.BankNumber, lastSynced time.Time) *SynthBank {
	b := &SynthBank{
		PatchList:  *NewPatchListWithID(SynthBankID(sy, bank), sy.FriendlyBankName(bank)),
		synth:      sy,
		bankNo:     bank,
		LastSynced: lastSynced,
		dirty:      make(map[int]struct{}),
	}
	return b
}

// NewUserBank creates a bank-shaped list that is not tied to the live
// instrument state.
func NewUserBank(id, name string, sy *synth.Synth, bank synth.BankNumber) *SynthBank {
	b := &SynthBank{
		PatchList: *NewPatchListWithID(id, name),
		synth:     sy,
		bankNo:    bank,
		dirty:     make(map[int]struct{}),
	}
	return b
}

// Synth returns the bound synth
func (b *SynthBank) Synth() *synth.Synth { return b.synth }

// BankNumber returns the bound bank
func (b *SynthBank) BankNumber() synth.BankNumber { return b.bankNo }

// IsWritable reports whether the bank can be sent back to the device.
// ROM banks are declared through bank descriptors.
func (b *SynthBank) IsWritable() bool {
	return b.synth.IsBankWritable(b.bankNo)
}

// DirtyPositions returns the zero-based positions modified since the
// last sync, unordered.
func (b *SynthBank) DirtyPositions() []int {
	result := make([]int, 0, len(b.dirty))
	for pos := range b.dirty {
		result = append(result, pos)
	}
	return result
}

// IsPositionDirty reports whether one slot was modified
func (b *SynthBank) IsPositionDirty(pos int) bool {
	_, ok := b.dirty[pos]
	return ok
}

// ClearDirty resets the modification tracking, after a successful send
func (b *SynthBank) ClearDirty() {
	b.dirty = make(map[int]struct{})
}

// SetPatches normalizes the given patches into the bank: every entry is
// renumbered to its position, and the list is padded with empty holders
// up to the bank size.
func (b *SynthBank) SetPatches(patches []*PatchHolder) {
	normalized := make([]*PatchHolder, 0, b.bankNo.Size())
	for i, p := range patches {
		clone := *p
		clone.Bank = b.bankNo
		clone.Program = synth.ProgramFromZeroBasedWithBank(b.bankNo, i)
		normalized = append(normalized, &clone)
	}
	for j := len(normalized); j < b.bankNo.Size(); j++ {
		empty := NewPatchHolder(b.synth, nil, nil)
		empty.Bank = b.bankNo
		empty.Program = synth.ProgramFromZeroBasedWithBank(b.bankNo, j)
		normalized = append(normalized, empty)
	}

	for _, p := range normalized {
		if err := b.validatePatch(p); err != nil {
			util.ErrorLog("Not updating bank: %v", err)
			return
		}
	}
	b.PatchList.SetPatches(normalized)
}

// AddPatch appends one validated entry
func (b *SynthBank) AddPatch(p *PatchHolder) {
	if err := b.validatePatch(p); err != nil {
		util.ErrorLog("Not adding patch to bank: %v", err)
		return
	}
	b.PatchList.AddPatch(p)
}

// ChangePatchAtPosition replaces one slot and marks it dirty
func (b *SynthBank) ChangePatchAtPosition(programPlace synth.ProgramNumber, p *PatchHolder) {
	current := b.Patches()
	position := programPlace.ToZeroBasedDiscardingBank()
	if position >= len(current) {
		util.ErrorLog("Bank position %d out of range", position)
		return
	}
	if current[position].MD5() != p.MD5() || current[position].Name() != p.Name() {
		b.dirty[position] = struct{}{}
	}
	current[position] = p
	b.SetPatches(current)
}

// CopyListToPosition copies a donor list into the bank starting at the
// given slot. Entries for other synths are skipped with a log message;
// copying stops at the end of the bank.
func (b *SynthBank) CopyListToPosition(programPlace synth.ProgramNumber, donor *PatchList) {
	current := b.Patches()
	position := programPlace.ToZeroBasedDiscardingBank()
	if position >= len(current) {
		util.ErrorLog("Bank position %d out of range", position)
		return
	}
	donorPatches := donor.Patches()
	readPos := 0
	writePos := position
	for writePos < len(current) && readPos < len(donorPatches) {
		candidate := donorPatches[readPos]
		if candidate.SynthName() != b.synth.Name {
			util.InfoLog("Skipping patch %s because it is for synth %s and cannot be put into the bank",
				candidate.Name(), candidate.SynthName())
			readPos++
			continue
		}
		current[writePos] = candidate
		b.dirty[writePos] = struct{}{}
		readPos++
		writePos++
	}
	b.SetPatches(current)
}

func (b *SynthBank) validatePatch(p *PatchHolder) error {
	if p.Synth != nil && p.SynthName() != b.synth.Name {
		return fmt.Errorf("%w: bank for %s got patch for %s", util.ErrWrongSynth, b.synth.Name, p.SynthName())
	}
	if !p.Bank.IsValid() || p.Bank.ToZeroBased() != b.bankNo.ToZeroBased() {
		return fmt.Errorf("patch carries bank %d, bank is %d", p.Bank.ToZeroBased(), b.bankNo.ToZeroBased())
	}
	if p.Program.IsBankKnown() && p.Program.Bank().ToZeroBased() != b.bankNo.ToZeroBased() {
		return fmt.Errorf("patch program is not normalized to bank %d", b.bankNo.ToZeroBased())
	}
	return nil
}
