package librarian

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// SniffSynth identifies which of the given synths a set of messages
// belongs to via the IsOwnSysex capability. More than one claimant is
// suspicious and logged; the first wins.
func SniffSynth(messages []midi.Message, synths []*synth.Synth) *synth.Synth {
	var claimants []*synth.Synth
	for _, sy := range synths {
		if sy.Capabilities.IsOwnSysex == nil {
			continue
		}
		for _, msg := range messages {
			if sy.Capabilities.IsOwnSysex(msg) {
				claimants = append(claimants, sy)
				break
			}
		}
	}
	if len(claimants) == 0 {
		return nil
	}
	if len(claimants) > 1 {
		util.WarnLog("Sysex messages claimed by %d synths, using %s", len(claimants), claimants[0].Name)
	}
	return claimants[0]
}

// LoadPatchesFromFile imports one .syx or .mid file for a synth and
// wraps the results in file provenance. Interchange (.json) files go
// through LoadPIF instead.
func LoadPatchesFromFile(sy *synth.Synth, fullPath string, synths map[string]*synth.Synth, categories []Category) ([]*PatchHolder, error) {
	filename := filepath.Base(fullPath)

	if strings.EqualFold(filepath.Ext(fullPath), ".json") {
		return LoadPIF(fullPath, synths, categories)
	}

	messages, err := LoadSysexFile(fullPath)
	if err != nil {
		return nil, err
	}

	if sy == nil {
		var all []*synth.Synth
		for _, s := range synths {
			all = append(all, s)
		}
		sy = SniffSynth(messages, all)
		if sy == nil {
			util.WarnLog("No synth recognizes the messages in %s, nothing imported", filename)
			return nil, nil
		}
	}

	patches := sy.LoadSysex(messages)
	return createHolders(sy, patches, synth.InvalidBank(), func(program synth.ProgramNumber) *SourceInfo {
		return FromFileSource(filename, fullPath, program)
	}), nil
}

// LoadPatchesFromFiles imports several files. When more than one path
// is given, every loaded holder's provenance is wrapped into a shared
// bulk import source, even if only one of the files could be loaded.
func LoadPatchesFromFiles(sy *synth.Synth, paths []string, synths map[string]*synth.Synth, categories []Category) ([]*PatchHolder, error) {
	var result []*PatchHolder
	for _, path := range paths {
		holders, err := LoadPatchesFromFile(sy, path, synths, categories)
		if err != nil {
			util.WarnLog("Failed to load %s: %v", path, err)
			continue
		}
		result = append(result, holders...)
	}
	if len(paths) > 1 {
		now := time.Now()
		for _, holder := range result {
			holder.SourceInfo = FromBulkSource(now, holder.SourceInfo)
		}
	}
	return result, nil
}
