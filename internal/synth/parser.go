package synth

import (
	"os"
	"strconv"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/util"
)

const (
	defaultMaxMsgsPerPatch = 14
	defaultMaxMsgsPerBank  = 256

	envMaxMsgsPerPatch = "ORM_MAX_MSG_PER_PATCH"
	envMaxMsgsPerBank  = "ORM_MAX_MSG_PER_BANK"
)

func windowLimit(env string, fallback int) int {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		util.WarnLog("Ignoring %s=%q, not a positive integer", env, os.Getenv(env))
	}
	return fallback
}

// LoadSysex classifies a flat sequence of messages into patches. A
// stream-load synth gets the whole sequence at once; everything else is
// run through independent sliding-window scanners for program dumps,
// edit buffers, bank dumps and data files. A message may belong to more
// than one candidate window.
func (s *Synth) LoadSysex(msgs []midi.Message) []*DataFile {
	caps := s.Capabilities
	if caps.StreamLoad != nil {
		return caps.StreamLoad.LoadStream(msgs)
	}

	maxPerPatch := windowLimit(envMaxMsgsPerPatch, defaultMaxMsgsPerPatch)
	maxPerBank := windowLimit(envMaxMsgsPerBank, defaultMaxMsgsPerBank)

	var result []*DataFile
	var programWindow, editBufferWindow, bankWindow []midi.Message
	programFingerprints := make(map[string]bool)
	patchNo := 0

	for _, msg := range msgs {
		accepted := false

		if caps.ProgramDump != nil && caps.ProgramDump.IsPartOfProgramDump(msg) {
			accepted = true
			programWindow = append(programWindow, msg)
			if len(programWindow) > maxPerPatch {
				programWindow = programWindow[1:]
			}
			if caps.ProgramDump.IsSingleProgramDump(programWindow) {
				patch, err := caps.ProgramDump.PatchFromProgramDump(programWindow)
				programWindow = nil
				if err != nil || patch == nil {
					util.WarnLog("Error decoding program dump for patch %d, skipping it", patchNo)
				} else {
					programFingerprints[s.Fingerprint(patch)] = true
					result = append(result, patch)
				}
				patchNo++
			}
		}

		if caps.EditBuffer != nil && caps.EditBuffer.IsPartOfEditBuffer(msg) {
			accepted = true
			editBufferWindow = append(editBufferWindow, msg)
			if len(editBufferWindow) > maxPerPatch {
				editBufferWindow = editBufferWindow[1:]
			}
			if caps.EditBuffer.IsEditBufferDump(editBufferWindow) {
				patch, err := caps.EditBuffer.PatchFromSysex(editBufferWindow)
				editBufferWindow = nil
				if err != nil || patch == nil {
					util.WarnLog("Error decoding edit buffer dump for patch %d, skipping it", patchNo)
				} else if programFingerprints[s.Fingerprint(patch)] {
					// Some synths present the same patch both as a
					// program dump and an edit buffer
					util.DebugLog("Dropping edit buffer duplicate of program dump %d", patchNo)
				} else {
					result = append(result, patch)
				}
				patchNo++
			}
		}

		if caps.BankDump != nil && caps.BankDump.IsBankDump(msg) {
			accepted = true
			bankWindow = append(bankWindow, msg)
			if len(bankWindow) > maxPerBank {
				bankWindow = bankWindow[1:]
			}
			if caps.BankDump.IsBankDumpFinished(bankWindow) {
				patches, err := caps.BankDump.PatchesFromBank(bankWindow)
				bankWindow = nil
				if err != nil {
					util.WarnLog("Error decoding bank dump: %v", err)
				} else {
					util.InfoLog("Loaded bank dump with %d patches", len(patches))
					result = append(result, patches...)
				}
			}
		}

		if caps.DataFiles != nil {
			for _, dataType := range caps.DataFiles.Types {
				if caps.DataFiles.IsDataFile(msg, dataType.ID) {
					accepted = true
					items := caps.DataFiles.Load([]midi.Message{msg}, dataType.ID)
					result = append(result, items...)
				}
			}
		}

		if !accepted {
			// Typically garbage like a macOS resource fork that made it
			// into a .syx file
			util.WarnLog("Ignoring unclassified sysex message: %s", msg.String())
		}
	}

	if len(bankWindow) > 0 {
		util.WarnLog("Incomplete bank found, patches from %d messages not loaded", len(bankWindow))
	}

	return result
}

// PatchToSysex converts a patch back to the messages that transport it.
// The edit buffer format wins when available, else a program dump
// targeting the given place.
func (s *Synth) PatchToSysex(d *DataFile, place ProgramNumber) []midi.Message {
	caps := s.Capabilities
	if caps.EditBuffer != nil {
		return caps.EditBuffer.PatchToSysex(d)
	}
	if caps.ProgramDump != nil {
		return caps.ProgramDump.PatchToProgramDump(d, place)
	}
	util.ErrorLog("Synth %s has no way to convert a patch to sysex", s.Name)
	return nil
}
