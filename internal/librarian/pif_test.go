package librarian

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/sysex-librarian/internal/synth"
)

func TestPIFSaveSinglePatch(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 64)
	bank := sy.Bank(3)
	sysex := []byte{0xF0, 0x7D, 0x01, 0x02, 0x03, 0xF7}

	holder := makeTestHolder(sy, "Bright Pad", bank, 42, sysex)
	holder.Favorite = FavoriteYes
	holder.Comment = "Very shiny"
	holder.Author = "Unit Tester"
	holder.Info = "Created for tests"
	pad := categoryByName("Pad")
	sfx := categoryByName("SFX")
	holder.SetCategory(pad, true)
	holder.SetUserDecision(pad)
	holder.SetUserDecision(sfx) // ruled on, but absent

	path := filepath.Join(t.TempDir(), "export.json")
	if err := SavePIF(path, []*PatchHolder{holder}); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		t.Fatalf("file is not JSON: %v", err)
	}

	var header struct {
		FileFormat string `json:"FileFormat"`
		Version    int    `json:"Version"`
	}
	if err := json.Unmarshal(doc["Header"], &header); err != nil {
		t.Fatalf("missing header: %v", err)
	}
	if header.FileFormat != "PatchInterchangeFormat" || header.Version != 1 {
		t.Errorf("unexpected header %+v", header)
	}

	var library []struct {
		Synth         string   `json:"Synth"`
		Name          string   `json:"Name"`
		Favorite      *int     `json:"Favorite"`
		Bank          *int     `json:"Bank"`
		Place         int      `json:"Place"`
		Categories    []string `json:"Categories"`
		NonCategories []string `json:"NonCategories"`
		Comment       string   `json:"Comment"`
		Author        string   `json:"Author"`
		Info          string   `json:"Info"`
		Sysex         string   `json:"Sysex"`
	}
	if err := json.Unmarshal(doc["Library"], &library); err != nil {
		t.Fatalf("missing library: %v", err)
	}
	if len(library) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(library))
	}
	entry := library[0]
	if entry.Synth != "TestSynth" || entry.Name != "Bright Pad" {
		t.Errorf("unexpected identity: %+v", entry)
	}
	if entry.Favorite == nil || *entry.Favorite != 1 {
		t.Error("expected favorite 1")
	}
	if entry.Bank == nil || *entry.Bank != 3 || entry.Place != 42 {
		t.Errorf("unexpected location: bank %v place %d", entry.Bank, entry.Place)
	}
	if len(entry.Categories) != 1 || entry.Categories[0] != "Pad" {
		t.Errorf("expected categories [Pad], got %v", entry.Categories)
	}
	if len(entry.NonCategories) != 1 || entry.NonCategories[0] != "SFX" {
		t.Errorf("expected non-categories [SFX], got %v", entry.NonCategories)
	}
	if entry.Comment != "Very shiny" || entry.Author != "Unit Tester" || entry.Info != "Created for tests" {
		t.Errorf("unexpected free text: %+v", entry)
	}
	if entry.Sysex != base64.StdEncoding.EncodeToString(sysex) {
		t.Errorf("unexpected sysex payload %q", entry.Sysex)
	}
}

func TestPIFLoadLegacyCategoryNames(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 64)
	synths := map[string]*synth.Synth{sy.Name: sy}

	document := map[string]any{
		"Header": map[string]any{"FileFormat": "PatchInterchangeFormat", "Version": 1},
		"Library": []map[string]any{{
			"Synth":         "TestSynth",
			"Name":          "Legacy",
			"Place":         0,
			"Categories":    []string{"Pad", "FX"},
			"NonCategories": []string{"Bells"},
			"Sysex":         base64.StdEncoding.EncodeToString(sysexPayload(0x10)),
		}},
	}
	content, _ := json.Marshal(document)
	path := filepath.Join(t.TempDir(), "legacy.json")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	holders, err := LoadPIF(path, synths, DefaultCategories())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(holders) != 1 {
		t.Fatalf("expected 1 holder, got %d", len(holders))
	}
	holder := holders[0]

	if !holder.Categories.Contains(categoryByName("Pad")) || !holder.Categories.Contains(categoryByName("SFX")) {
		t.Errorf("expected categories {Pad, SFX}, got %v", holder.Categories.Names())
	}
	for _, name := range []string{"Pad", "SFX", "Bell"} {
		if !holder.UserDecisions.Contains(categoryByName(name)) {
			t.Errorf("expected user decision on %s", name)
		}
	}
}

func TestPIFRoundTrip(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 64)
	synths := map[string]*synth.Synth{sy.Name: sy}

	var saved []*PatchHolder
	for i := 0; i < 5; i++ {
		holder := makeTestHolder(sy, "Patch", sy.Bank(1), i, nil)
		holder.Favorite = Favorite(i%3 - 1)
		holder.Comment = "comment"
		holder.Author = "author"
		holder.Info = "info"
		lead := categoryByName("Lead")
		holder.SetCategory(lead, true)
		holder.SetUserDecision(lead)
		saved = append(saved, holder)
	}

	path := filepath.Join(t.TempDir(), "roundtrip.json")
	if err := SavePIF(path, saved); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	loaded, err := LoadPIF(path, synths, DefaultCategories())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(loaded) != len(saved) {
		t.Fatalf("expected %d holders, got %d", len(saved), len(loaded))
	}

	byMD5 := make(map[string]*PatchHolder)
	for _, holder := range loaded {
		byMD5[holder.MD5()] = holder
	}
	for _, original := range saved {
		restored, ok := byMD5[original.MD5()]
		if !ok {
			t.Fatalf("fingerprint %s lost in round trip", original.MD5())
		}
		if restored.Name() != original.Name() {
			t.Errorf("name changed: %s != %s", restored.Name(), original.Name())
		}
		if restored.Favorite != original.Favorite {
			t.Errorf("favorite changed: %d != %d", restored.Favorite, original.Favorite)
		}
		if restored.Bank.ToZeroBased() != original.Bank.ToZeroBased() {
			t.Errorf("bank changed")
		}
		if restored.Program.ToZeroBasedDiscardingBank() != original.Program.ToZeroBasedDiscardingBank() {
			t.Errorf("program changed")
		}
		if restored.Comment != original.Comment || restored.Author != original.Author || restored.Info != original.Info {
			t.Errorf("free text changed")
		}
		want := Intersection(original.Categories, original.UserDecisions)
		for idx := range want {
			if _, ok := restored.UserDecisions[idx]; !ok {
				t.Errorf("user decision on bit %d lost", idx)
			}
		}
	}
}

func TestPIFLoadSkipsUnknownSynth(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 64)
	synths := map[string]*synth.Synth{sy.Name: sy}

	document := map[string]any{
		"Header": map[string]any{"FileFormat": "PatchInterchangeFormat", "Version": 1},
		"Library": []map[string]any{
			{"Synth": "NoSuchSynth", "Name": "Ghost", "Place": 0,
				"Sysex": base64.StdEncoding.EncodeToString(sysexPayload(0x11))},
			{"Synth": "TestSynth", "Name": "BadData", "Place": 0, "Sysex": "!!!not-base64!!!"},
			{"Synth": "TestSynth", "Name": "Good", "Place": 0,
				"Sysex": base64.StdEncoding.EncodeToString(sysexPayload(0x12))},
		},
	}
	content, _ := json.Marshal(document)
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	holders, err := LoadPIF(path, synths, DefaultCategories())
	if err != nil {
		t.Fatalf("a permissive load must not fail: %v", err)
	}
	if len(holders) != 1 || holders[0].Name() != "Good" {
		t.Fatalf("expected only the good entry, got %d", len(holders))
	}
}

func TestPIFLoadVersionZeroRootArray(t *testing.T) {
	sy := newTestSynth("TestSynth", 4, 64)
	synths := map[string]*synth.Synth{sy.Name: sy}

	document := []map[string]any{{
		"Synth": "TestSynth",
		"Name":  "Oldie",
		"Place": 3,
		"Sysex": base64.StdEncoding.EncodeToString(sysexPayload(0x13)),
	}}
	content, _ := json.Marshal(document)
	path := filepath.Join(t.TempDir(), "v0.json")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	holders, err := LoadPIF(path, synths, DefaultCategories())
	if err != nil {
		t.Fatalf("version 0 documents must load: %v", err)
	}
	if len(holders) != 1 || holders[0].Name() != "Oldie" {
		t.Fatalf("expected the v0 entry, got %d holders", len(holders))
	}
}
