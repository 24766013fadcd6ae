package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
)

const testDataType = 99

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

func makeTestHolder(sy *synth.Synth, name string, bank synth.BankNumber, program int, data []byte) *librarian.PatchHolder {
	if data == nil {
		data = sysexPayload(byte(program%0x40 + 1))
	}
	programNo := synth.ProgramFromZeroBasedWithBank(bank, program)
	holder := librarian.NewPatchHolder(sy,
		librarian.FromFileSource(name+".syx", "/tmp/"+name+".syx", programNo),
		synth.NewDataFile(testDataType, data))
	holder.SetName(name)
	holder.Bank = bank
	holder.Program = programNo
	return holder
}

func openTestStore(t *testing.T, synths map[string]*synth.Synth) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-catalog.db3")
	db, err := Open(path, ReadWrite, synths)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCount(t *testing.T, db *Store, table string) int {
	t.Helper()
	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}

func categoryByName(t *testing.T, db *Store, name string) librarian.Category {
	t.Helper()
	categories, err := db.Categories()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range categories {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("unknown category %s", name)
	return librarian.Category{}
}
