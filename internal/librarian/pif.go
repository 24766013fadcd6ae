package librarian

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// The Patch Interchange Format is a human-portable JSON document that
// round-trips patches with their metadata. The sysex payload travels
// base64-encoded; everything else is plain JSON.
//
// Version history:
//   0 - no header, the whole file is the patch array
//   1 - header with file format name and version, patches under "Library"

const (
	pifFormatName = "PatchInterchangeFormat"
	pifVersion    = 1
)

type pifHeader struct {
	FileFormat string `json:"FileFormat"`
	Version    int    `json:"Version"`
}

type pifPatch struct {
	Synth         string          `json:"Synth"`
	Name          string          `json:"Name"`
	Favorite      *int            `json:"Favorite"`
	Bank          *int            `json:"Bank,omitempty"`
	Place         int             `json:"Place"`
	Categories    []string        `json:"Categories,omitempty"`
	NonCategories []string        `json:"NonCategories,omitempty"`
	Comment       string          `json:"Comment,omitempty"`
	Author        string          `json:"Author,omitempty"`
	Info          string          `json:"Info,omitempty"`
	SourceInfo    json.RawMessage `json:"SourceInfo,omitempty"`
	Sysex         string          `json:"Sysex"`
}

type pifDocument struct {
	Header  *pifHeader `json:"Header,omitempty"`
	Library []pifPatch `json:"Library,omitempty"`
}

// legacyCategoryName maps category names of the predecessor tool to the
// current standard set.
func legacyCategoryName(name string) string {
	switch name {
	case "Bells":
		return "Bell"
	case "FX":
		return "SFX"
	}
	return name
}

func findCategory(categories []Category, name string) (Category, bool) {
	name = legacyCategoryName(name)
	for _, c := range categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// SavePIF writes the patches as a version 1 interchange document. Only
// user-decided categories are written; automatic tags are re-derivable
// on the receiving side. Favorite Unknown serializes as null.
func SavePIF(path string, patches []*PatchHolder) error {
	doc := pifDocument{
		Header:  &pifHeader{FileFormat: pifFormatName, Version: pifVersion},
		Library: []pifPatch{},
	}

	for _, patch := range patches {
		entry := pifPatch{
			Synth:   patch.SynthName(),
			Name:    patch.Name(),
			Place:   patch.Program.ToZeroBasedDiscardingBank(),
			Comment: patch.Comment,
			Author:  patch.Author,
			Info:    patch.Info,
		}
		if patch.Favorite != FavoriteUnknown {
			fav := int(patch.Favorite)
			entry.Favorite = &fav
		}
		if patch.Bank.IsValid() {
			bank := patch.Bank.ToZeroBased()
			entry.Bank = &bank
		}
		entry.Categories = Intersection(patch.Categories, patch.UserDecisions).Names()
		entry.NonCategories = Difference(patch.UserDecisions, patch.Categories).Names()

		if patch.SourceInfo != nil {
			entry.SourceInfo = json.RawMessage(patch.SourceInfo.ToJSON())
		}

		var payload []byte
		for _, msg := range patch.Synth.PatchToSysex(patch.Patch, patch.Program) {
			payload = append(payload, msg...)
		}
		entry.Sysex = base64.StdEncoding.EncodeToString(payload)

		doc.Library = append(doc.Library, entry)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to serialize interchange document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write interchange file: %w", err)
	}
	return nil
}

// LoadPIF reads an interchange document. The load is permissive:
// entries for unknown synths or with broken base64 are skipped with a
// warning, and unknown category names are dropped from an entry with a
// warning while the entry itself is kept; none of these fails the whole
// file. Categories and non-categories both count as user decisions.
func LoadPIF(path string, synths map[string]*synth.Synth, categories []Category) ([]*PatchHolder, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read interchange file: %w", err)
	}

	fileSource := FromFileSource(filepath.Base(path), path, synth.InvalidProgram())

	var entries []pifPatch
	var doc pifDocument
	if err := json.Unmarshal(content, &doc); err == nil && doc.Header != nil {
		if doc.Header.FileFormat != pifFormatName {
			return nil, fmt.Errorf("file header defines format %q, not %s: %w", doc.Header.FileFormat, pifFormatName, util.ErrInvalidFilter)
		}
		if doc.Header.Version > pifVersion {
			util.WarnLog("Interchange file version %d is newer than supported %d, trying anyway", doc.Header.Version, pifVersion)
		}
		entries = doc.Library
	} else {
		// Version 0 stored the patch array at the document root
		if err := json.Unmarshal(content, &entries); err != nil {
			return nil, fmt.Errorf("file is neither a headered interchange document nor a patch array: %w", err)
		}
	}

	var result []*PatchHolder
	for _, entry := range entries {
		if entry.Synth == "" {
			util.WarnLog("Skipping patch which has no 'Synth' field")
			continue
		}
		sy, known := synths[entry.Synth]
		if !known {
			util.WarnLog("Skipping patch which is for synth %s and not for any present in the list given", entry.Synth)
			continue
		}
		if entry.Sysex == "" {
			util.WarnLog("Skipping patch %s which has no 'Sysex' field", entry.Name)
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(entry.Sysex)
		if err != nil {
			util.WarnLog("Skipping patch %s with invalid base64 encoded data", entry.Name)
			continue
		}

		messages := []midi.Message{}
		for _, msg := range midi.SplitSysEx(payload) {
			if msg.IsSysEx() {
				messages = append(messages, msg)
			}
		}
		patches := sy.LoadSysex(messages)
		if len(patches) != 1 {
			util.WarnLog("Skipping patch %s, expected exactly one patch in payload but found %d", entry.Name, len(patches))
			continue
		}

		holder := NewPatchHolder(sy, fileSource, patches[0])
		if entry.Favorite != nil {
			holder.Favorite = FavoriteFromInt(*entry.Favorite)
		}
		if entry.Bank != nil {
			holder.Bank = sy.Bank(*entry.Bank)
			holder.Program = synth.ProgramFromZeroBasedWithBank(holder.Bank, entry.Place)
		} else {
			holder.Program = synth.ProgramFromZeroBased(entry.Place)
		}
		holder.SetName(entry.Name)
		holder.Comment = entry.Comment
		holder.Author = entry.Author
		holder.Info = entry.Info

		for _, name := range entry.Categories {
			category, ok := findCategory(categories, name)
			if !ok {
				util.WarnLog("Ignoring category %s of patch %s because it is not part of our standard categories", name, entry.Name)
				continue
			}
			holder.SetCategory(category, true)
			holder.SetUserDecision(category)
		}
		for _, name := range entry.NonCategories {
			category, ok := findCategory(categories, name)
			if !ok {
				util.WarnLog("Ignoring non-category %s of patch %s because it is not part of our standard categories", name, entry.Name)
				continue
			}
			holder.SetUserDecision(category)
		}

		if len(entry.SourceInfo) > 0 {
			if info, err := ParseSourceInfo(string(entry.SourceInfo)); err == nil && info != nil {
				holder.SourceInfo = info
			}
		}

		result = append(result, holder)
	}
	return result, nil
}
