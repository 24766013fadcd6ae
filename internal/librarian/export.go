package librarian

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
	"gitlab.com/gomidi/midi/v2/smf"
)

// FileOption selects how exported data lands on disk
type FileOption int

const (
	// ManyFiles writes one .syx per patch into a directory
	ManyFiles FileOption = iota
	// ZippedFiles packs the per-patch files into one archive
	ZippedFiles
	// OneFile concatenates every dump into a single .syx
	OneFile
	// MidFile embeds the dumps as SysEx events in a standard MIDI file
	MidFile
)

// FormatOption selects which dump format each patch is exported in
type FormatOption int

const (
	// EditBufferDumps uses the synth's default patch-to-sysex path
	EditBufferDumps FormatOption = iota
	// ProgramDumps forces program-dump framing where available
	ProgramDumps
	// BankDump packs all patches through the bank-send capability
	BankDump
)

// ExportParams configures an export run
type ExportParams struct {
	FileOption   FileOption
	FormatOption FormatOption
}

const exportPPQN = 96

// Export writes the selected patches to destination, whose meaning
// depends on the file option: a directory for ManyFiles, a file path
// otherwise. With the BankDump format the bank always goes into the one
// file at destination (an SMF for MidFile, raw sysex for every other
// file option, ManyFiles included).
func Export(ctx context.Context, destination string, params ExportParams, patches []*PatchHolder) error {
	if len(patches) == 0 {
		return nil
	}

	if params.FormatOption == BankDump {
		messages, err := bankDumpMessages(patches)
		if err != nil {
			return err
		}
		return writeCollected(destination, params.FileOption, messages)
	}

	var allMessages []midi.Message
	var zipWriter *zip.Writer
	var zipFile *os.File

	switch params.FileOption {
	case ManyFiles:
		if err := os.MkdirAll(destination, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	case ZippedFiles:
		f, err := os.Create(destination)
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		zipFile = f
		zipWriter = zip.NewWriter(f)
	}

	for _, patch := range patches {
		if ctx.Err() != nil {
			if zipWriter != nil {
				zipWriter.Close()
				zipFile.Close()
			}
			return util.ErrCancelled
		}
		if patch.Patch == nil {
			continue
		}
		messages := patchMessages(patch, params.FormatOption)
		if len(messages) == 0 {
			util.WarnLog("Patch %s produced no sysex, skipping in export", patch.Name())
			continue
		}

		switch params.FileOption {
		case ManyFiles:
			name := SanitizeFileName(patch.Name()) + ".syx"
			if err := SaveSysexFile(filepath.Join(destination, name), messages); err != nil {
				return err
			}
		case ZippedFiles:
			name := SanitizeFileName(patch.Name()) + ".syx"
			w, err := zipWriter.Create(name)
			if err != nil {
				zipWriter.Close()
				zipFile.Close()
				return fmt.Errorf("failed to add %s to archive: %w", name, err)
			}
			for _, msg := range messages {
				if _, err := w.Write(msg); err != nil {
					zipWriter.Close()
					zipFile.Close()
					return fmt.Errorf("failed to write %s into archive: %w", name, err)
				}
			}
		case OneFile, MidFile:
			allMessages = append(allMessages, messages...)
		}
	}

	switch params.FileOption {
	case ZippedFiles:
		if err := zipWriter.Close(); err != nil {
			zipFile.Close()
			return fmt.Errorf("failed to finish archive: %w", err)
		}
		return zipFile.Close()
	case OneFile:
		return SaveSysexFile(destination, allMessages)
	case MidFile:
		return writeSMF(destination, allMessages)
	}
	return nil
}

func writeCollected(destination string, option FileOption, messages []midi.Message) error {
	switch option {
	case MidFile:
		return writeSMF(destination, messages)
	default:
		return SaveSysexFile(destination, messages)
	}
}

// patchMessages renders one patch in the requested dump format
func patchMessages(patch *PatchHolder, format FormatOption) []midi.Message {
	sy := patch.Synth
	if format == ProgramDumps && sy.Capabilities.ProgramDump != nil {
		return sy.Capabilities.ProgramDump.PatchToProgramDump(patch.Patch, patch.Program)
	}
	return sy.PatchToSysex(patch.Patch, patch.Program)
}

func bankDumpMessages(patches []*PatchHolder) ([]midi.Message, error) {
	sy := patches[0].Synth
	caps := sy.Capabilities
	if caps.BankSend == nil {
		return nil, fmt.Errorf("synth %s cannot export bank dumps: %w", sy.Name, util.ErrNoStrategy)
	}
	var patchMessages [][]midi.Message
	i := 0
	for _, patch := range patches {
		if patch.Patch == nil {
			continue
		}
		if caps.ProgramDump != nil {
			patchMessages = append(patchMessages, caps.ProgramDump.PatchToProgramDump(patch.Patch, synth.ProgramFromZeroBased(i)))
			i++
		} else if caps.EditBuffer != nil {
			patchMessages = append(patchMessages, caps.EditBuffer.PatchToSysex(patch.Patch))
		}
	}
	return caps.BankSend.CreateBankMessages(patchMessages), nil
}

// writeSMF embeds every message as a SysEx event at tick 0 of a single
// track, 96 ppqn.
func writeSMF(destination string, messages []midi.Message) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(exportPPQN)

	var track smf.Track
	for _, msg := range messages {
		track.Add(0, smf.Message(msg))
	}
	track.Close(0)
	if err := s.Add(track); err != nil {
		return fmt.Errorf("failed to build MIDI file track: %w", err)
	}

	f, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("failed to create MIDI file: %w", err)
	}
	defer f.Close()
	if _, err := s.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write MIDI file: %w", err)
	}
	return nil
}
