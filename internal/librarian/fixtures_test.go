package librarian

import (
	"fmt"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
)

const testDataType = 99

// newTestSynth builds a synth whose patches are just their raw sysex
// frame, so everything round-trips byte for byte.
func newTestSynth(name string, bankCount, bankSize int) *synth.Synth {
	return &synth.Synth{
		Name: name,
		Capabilities: synth.Capabilities{
			PatchFromBytes: func(data []byte, _ synth.ProgramNumber) (*synth.DataFile, error) {
				return synth.NewDataFile(testDataType, data), nil
			},
			IsOwnSysex: func(msg midi.Message) bool {
				return msg.IsSysEx()
			},
			Banks: &synth.BanksCapability{
				NumberOfBanks:   bankCount,
				NumberOfPatches: bankSize,
				FriendlyBankName: func(bank synth.BankNumber) string {
					return fmt.Sprintf("Bank %d", bank.ToOneBased())
				},
			},
			EditBuffer: &synth.EditBufferCapability{
				RequestEditBuffer: func() []midi.Message {
					return []midi.Message{{0xF0, 0x7D, 0x04, 0xF7}}
				},
				IsPartOfEditBuffer: func(msg midi.Message) bool {
					return msg.IsSysEx()
				},
				IsEditBufferDump: func(msgs []midi.Message) bool {
					return len(msgs) == 1
				},
				PatchFromSysex: func(msgs []midi.Message) (*synth.DataFile, error) {
					return synth.NewDataFile(testDataType, msgs[0]), nil
				},
				PatchToSysex: func(d *synth.DataFile) []midi.Message {
					return []midi.Message{midi.Message(d.Data).Clone()}
				},
			},
		},
	}
}

func sysexPayload(payload ...byte) []byte {
	data := []byte{0xF0, 0x7D}
	data = append(data, payload...)
	return append(data, 0xF7)
}

func uniqueSysexForProgram(program int) []byte {
	return sysexPayload(byte(program%0x40 + 1))
}

func makeTestHolder(sy *synth.Synth, name string, bank synth.BankNumber, program int, data []byte) *PatchHolder {
	if data == nil {
		data = uniqueSysexForProgram(program)
	}
	programNo := synth.ProgramFromZeroBasedWithBank(bank, program)
	holder := NewPatchHolder(sy,
		FromFileSource(name+".syx", "/tmp/"+name+".syx", programNo),
		synth.NewDataFile(testDataType, data))
	holder.SetName(name)
	holder.Bank = bank
	holder.Program = programNo
	return holder
}

func categoryByName(name string) Category {
	for _, c := range DefaultCategories() {
		if c.Name == name {
			return c
		}
	}
	panic("unknown test category " + name)
}
