package librarian

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/util"
	"gitlab.com/gomidi/midi/v2/smf"
)

// LoadSysexFile reads MIDI messages from a .syx or .mid file. Raw
// files are split into F0..F7 frames; standard MIDI files contribute
// every SysEx event of every track.
func LoadSysexFile(path string) ([]midi.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sysex file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".mid") {
		return sysexFromSMF(data)
	}

	var result []midi.Message
	for _, msg := range midi.SplitSysEx(data) {
		if msg.IsSysEx() {
			result = append(result, msg)
		} else {
			util.DebugLog("Skipping %d non-sysex bytes in %s", len(msg), filepath.Base(path))
		}
	}
	return result, nil
}

func sysexFromSMF(data []byte) ([]midi.Message, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI file: %w", err)
	}
	var result []midi.Message
	for _, track := range s.Tracks {
		for _, ev := range track {
			raw := ev.Message.Bytes()
			if len(raw) > 0 && raw[0] == 0xF0 {
				result = append(result, midi.Message(raw))
			}
		}
	}
	return result, nil
}

// SaveSysexFile concatenates the raw bytes of all messages into one
// .syx file.
func SaveSysexFile(path string, messages []midi.Message) error {
	var buf bytes.Buffer
	for _, msg := range messages {
		buf.Write(msg)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write sysex file: %w", err)
	}
	return nil
}

// SanitizeFileName makes a patch name safe as a file name
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
	)
	sanitized := replacer.Replace(name)
	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
