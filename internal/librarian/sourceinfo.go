package librarian

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// SourceKind discriminates the provenance variants
type SourceKind int

const (
	SourceSynth SourceKind = iota
	SourceFile
	SourceBulk
)

// SourceInfo records where a patch came from. It round-trips through a
// small JSON blob stored with the patch row, keyed so old catalogs keep
// loading.
type SourceInfo struct {
	Kind      SourceKind
	Timestamp time.Time
	// Bank is valid for synth imports of a whole bank; an invalid bank
	// marks an edit-buffer import.
	Bank     synth.BankNumber
	Filename string
	FullPath string
	Program  synth.ProgramNumber
	// Inner is the per-file info wrapped by a bulk import
	Inner *SourceInfo
}

// FromSynthSource records an import from the instrument itself
func FromSynthSource(timestamp time.Time, bank synth.BankNumber) *SourceInfo {
	return &SourceInfo{Kind: SourceSynth, Timestamp: timestamp, Bank: bank}
}

// FromFileSource records an import from a file on disk
func FromFileSource(filename, fullPath string, program synth.ProgramNumber) *SourceInfo {
	return &SourceInfo{Kind: SourceFile, Filename: filename, FullPath: fullPath, Program: program}
}

// FromBulkSource wraps a per-file source into a multi-file import
func FromBulkSource(timestamp time.Time, inner *SourceInfo) *SourceInfo {
	return &SourceInfo{Kind: SourceBulk, Timestamp: timestamp, Inner: inner}
}

// IsEditBufferImport reports a synth import with no bank, which is how
// edit-buffer downloads are tagged.
func IsEditBufferImport(s *SourceInfo) bool {
	return s != nil && s.Kind == SourceSynth && !s.Bank.IsValid()
}

type sourceInfoJSON struct {
	SynthSource bool   `json:"synthsource,omitempty"`
	FileSource  bool   `json:"filesource,omitempty"`
	BulkSource  bool   `json:"bulksource,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	BankNumber  *int   `json:"banknumber,omitempty"`
	Filename    string `json:"filename,omitempty"`
	FullPath    string `json:"fullpath,omitempty"`
	Program     *int   `json:"program,omitempty"`
	FileInBulk  string `json:"fileInBulk,omitempty"`
}

// ToJSON serializes the source info for storage
func (s *SourceInfo) ToJSON() string {
	if s == nil {
		return ""
	}
	var rep sourceInfoJSON
	switch s.Kind {
	case SourceSynth:
		rep.SynthSource = true
		rep.Timestamp = s.Timestamp.UTC().Format(time.RFC3339)
		if s.Bank.IsValid() {
			bank := s.Bank.ToZeroBased()
			rep.BankNumber = &bank
		}
	case SourceFile:
		rep.FileSource = true
		rep.Filename = s.Filename
		rep.FullPath = s.FullPath
		if s.Program.IsValid() {
			program := s.Program.ToZeroBasedWithBank()
			rep.Program = &program
		}
	case SourceBulk:
		rep.BulkSource = true
		rep.Timestamp = s.Timestamp.UTC().Format(time.RFC3339)
		if s.Inner != nil {
			rep.FileInBulk = s.Inner.ToJSON()
		}
	}
	data, err := json.Marshal(rep)
	if err != nil {
		util.ErrorLog("Failed to serialize source info: %v", err)
		return ""
	}
	return string(data)
}

// ParseSourceInfo deserializes a stored source info blob. A nil result
// with nil error means the blob was empty.
func ParseSourceInfo(blob string) (*SourceInfo, error) {
	if blob == "" {
		return nil, nil
	}
	var rep sourceInfoJSON
	if err := json.Unmarshal([]byte(blob), &rep); err != nil {
		return nil, fmt.Errorf("failed to parse source info: %w", err)
	}
	switch {
	case rep.SynthSource:
		info := &SourceInfo{Kind: SourceSynth}
		if rep.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, rep.Timestamp); err == nil {
				info.Timestamp = ts
			}
		}
		if rep.BankNumber != nil {
			info.Bank = synth.BankFromZeroBased(*rep.BankNumber, 0)
		}
		return info, nil
	case rep.FileSource:
		info := &SourceInfo{Kind: SourceFile, Filename: rep.Filename, FullPath: rep.FullPath}
		if rep.Program != nil {
			info.Program = synth.ProgramFromZeroBased(*rep.Program)
		}
		return info, nil
	case rep.BulkSource:
		info := &SourceInfo{Kind: SourceBulk}
		if rep.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, rep.Timestamp); err == nil {
				info.Timestamp = ts
			}
		}
		if rep.FileInBulk != "" {
			inner, err := ParseSourceInfo(rep.FileInBulk)
			if err == nil {
				info.Inner = inner
			}
		}
		return info, nil
	}
	return nil, fmt.Errorf("source info blob has no recognized type: %s", blob)
}

// DisplayString renders the provenance for users and import lists
func (s *SourceInfo) DisplayString(sy *synth.Synth, short bool) string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case SourceSynth:
		bank := " edit buffer"
		if s.Bank.IsValid() {
			if sy != nil {
				bank = " " + sy.FriendlyBankName(s.Bank)
			} else {
				bank = fmt.Sprintf(" bank %d", s.Bank.ToOneBased())
			}
		}
		if !s.Timestamp.IsZero() {
			return fmt.Sprintf("Imported from synth%s on %s", bank, s.Timestamp.Format("2006-01-02 at 15:04:05"))
		}
		return fmt.Sprintf("Imported from synth%s", bank)
	case SourceFile:
		return fmt.Sprintf("Imported from file %s", s.Filename)
	case SourceBulk:
		if !s.Timestamp.IsZero() {
			if short || s.Inner == nil {
				return fmt.Sprintf("Bulk import (%s)", s.Timestamp.Format("2006-01-02 at 15:04:05"))
			}
			return fmt.Sprintf("Bulk import %s (%s)", s.Timestamp.Format("2006-01-02 at 15:04:05"), s.Inner.DisplayString(sy, true))
		}
		return "Bulk file import"
	}
	return ""
}

// ImportID derives the stable id grouping patches of one import
func (s *SourceInfo) ImportID(sy *synth.Synth) string {
	sum := md5.Sum([]byte(s.DisplayString(sy, true)))
	return hex.EncodeToString(sum[:])
}
