package main

import (
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
)

// Device adapters are loaded as capability records. Until external
// adapter packages are linked in, the registry carries the reference
// profile below, a development synth speaking the non-commercial
// manufacturer id. It exercises detection and the program-dump and
// edit-buffer transfers end to end against hardware or a loopback
// cable; it has no stream, handshake, bank-dump or bank-send support.

const devManufacturerID = 0x7D

const (
	devOpDetect      = 0x00
	devOpDetectReply = 0x01
	devOpRequestProg = 0x02
	devOpProgDump    = 0x03
	devOpRequestEdit = 0x04
	devOpEditDump    = 0x05
)

func devMessage(op byte, payload ...byte) midi.Message {
	msg := midi.Message{0xF0, devManufacturerID, op}
	msg = append(msg, payload...)
	return append(msg, 0xF7)
}

func isDevMessage(msg midi.Message, op byte) bool {
	return len(msg) >= 4 && msg[0] == 0xF0 && msg[1] == devManufacturerID && msg[2] == op
}

func devSynth() *synth.Synth {
	return &synth.Synth{
		Name: "DevSynth",
		Capabilities: synth.Capabilities{
			PatchFromBytes: func(data []byte, _ synth.ProgramNumber) (*synth.DataFile, error) {
				return synth.NewDataFile(0, data), nil
			},
			IsOwnSysex: func(msg midi.Message) bool {
				return len(msg) >= 2 && msg[0] == 0xF0 && msg[1] == devManufacturerID
			},
			NameForPatch: func(d *synth.DataFile) string {
				// Bytes 4..19 of a program dump hold the name
				if len(d.Data) >= 20 && d.Data[0] == 0xF0 {
					name := make([]byte, 0, 16)
					for _, b := range d.Data[4:20] {
						if b == 0 {
							break
						}
						name = append(name, b)
					}
					return string(name)
				}
				return ""
			},
			IsDefaultName: func(name string) bool {
				return name == "INIT" || name == "BASIC PATCH"
			},
			Banks: &synth.BanksCapability{
				NumberOfBanks:   2,
				NumberOfPatches: 64,
				FriendlyBankName: func(bank synth.BankNumber) string {
					return fmt.Sprintf("Bank %c", 'A'+bank.ToZeroBased())
				},
			},
			Detect: &synth.DetectCapability{
				DetectMessage: func(channel int) []midi.Message {
					return []midi.Message{devMessage(devOpDetect, byte(channel&0x7F))}
				},
				ChannelIfValidResponse: func(msg midi.Message) synth.Channel {
					if isDevMessage(msg, devOpDetectReply) && len(msg) >= 5 {
						return synth.ChannelFromZeroBased(int(msg[3]))
					}
					return synth.InvalidChannel()
				},
				NeedsChannelSpecific: false,
				DetectSleep:          200 * time.Millisecond,
			},
			ProgramDump: &synth.ProgramDumpCapability{
				RequestPatch: func(programNo int) []midi.Message {
					return []midi.Message{devMessage(devOpRequestProg, byte(programNo&0x7F))}
				},
				IsPartOfProgramDump: func(msg midi.Message) bool {
					return isDevMessage(msg, devOpProgDump)
				},
				IsSingleProgramDump: func(msgs []midi.Message) bool {
					return len(msgs) == 1 && isDevMessage(msgs[0], devOpProgDump)
				},
				PatchFromProgramDump: func(msgs []midi.Message) (*synth.DataFile, error) {
					if len(msgs) != 1 {
						return nil, fmt.Errorf("expected a single program dump message, got %d", len(msgs))
					}
					return synth.NewDataFile(0, msgs[0]), nil
				},
				PatchToProgramDump: func(d *synth.DataFile, place synth.ProgramNumber) []midi.Message {
					msg := midi.Message(d.Data).Clone()
					if len(msg) > 3 && place.IsValid() {
						msg[3] = byte(place.ToZeroBasedWithBank() & 0x7F)
					}
					return []midi.Message{msg}
				},
				ProgramNumberFromDump: func(msgs []midi.Message) (synth.ProgramNumber, bool) {
					if len(msgs) == 1 && isDevMessage(msgs[0], devOpProgDump) && len(msgs[0]) >= 5 {
						return synth.ProgramFromZeroBased(int(msgs[0][3])), true
					}
					return synth.InvalidProgram(), false
				},
			},
			EditBuffer: &synth.EditBufferCapability{
				RequestEditBuffer: func() []midi.Message {
					return []midi.Message{devMessage(devOpRequestEdit)}
				},
				IsPartOfEditBuffer: func(msg midi.Message) bool {
					return isDevMessage(msg, devOpEditDump)
				},
				IsEditBufferDump: func(msgs []midi.Message) bool {
					return len(msgs) == 1 && isDevMessage(msgs[0], devOpEditDump)
				},
				PatchFromSysex: func(msgs []midi.Message) (*synth.DataFile, error) {
					if len(msgs) != 1 {
						return nil, fmt.Errorf("expected a single edit buffer message, got %d", len(msgs))
					}
					return synth.NewDataFile(0, msgs[0]), nil
				},
				PatchToSysex: func(d *synth.DataFile) []midi.Message {
					return []midi.Message{midi.Message(d.Data).Clone()}
				},
			},
		},
	}
}

// synthRegistry returns the configured synths by name
func synthRegistry() map[string]*synth.Synth {
	dev := devSynth()
	return map[string]*synth.Synth{
		dev.Name: dev,
	}
}
