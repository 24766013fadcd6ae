package store

import (
	"testing"
	"time"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/synth"
)

func TestPutAndGetSinglePatch(t *testing.T) {
	sy := newTestSynth("TestSynth", 2, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	holder := makeTestHolder(sy, "Bright Pad", sy.Bank(1), 3, nil)
	holder.Favorite = librarian.FavoriteYes
	holder.Comment = "Very shiny"
	holder.Author = "Unit Tester"
	holder.Info = "Created for tests"

	if err := db.PutPatch(nil, holder); err != nil {
		t.Fatalf("failed to put patch: %v", err)
	}

	loaded, err := db.GetSinglePatch(sy, holder.MD5())
	if err != nil {
		t.Fatalf("failed to load patch: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected the patch to be found")
	}
	if loaded.Name() != "Bright Pad" {
		t.Errorf("name changed: %s", loaded.Name())
	}
	if loaded.Favorite != librarian.FavoriteYes {
		t.Errorf("favorite changed: %d", loaded.Favorite)
	}
	if loaded.Bank.ToZeroBased() != 1 || loaded.Program.ToZeroBasedDiscardingBank() != 3 {
		t.Errorf("location changed: bank %d program %d", loaded.Bank.ToZeroBased(), loaded.Program.ToZeroBasedDiscardingBank())
	}
	if loaded.Comment != "Very shiny" || loaded.Author != "Unit Tester" || loaded.Info != "Created for tests" {
		t.Errorf("free text changed: %+v", loaded)
	}
	if loaded.MD5() != holder.MD5() {
		t.Error("fingerprint changed through the store")
	}
}

func TestPutPatchIsStrictInsert(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	holder := makeTestHolder(sy, "Original", sy.Bank(0), 0, nil)
	if err := db.PutPatch(nil, holder); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := db.PutPatch(nil, holder); err == nil {
		t.Fatal("expected the duplicate insert to fail")
	}
}

func TestMergeIdempotence(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)

	makeBatch := func() []*librarian.PatchHolder {
		var batch []*librarian.PatchHolder
		source := librarian.FromSynthSource(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), sy.Bank(0))
		for i := 0; i < 5; i++ {
			holder := makeTestHolder(sy, "Patch", sy.Bank(0), i, nil)
			holder.SourceInfo = source
			batch = append(batch, holder)
		}
		return batch
	}

	once := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})
	if _, err := once.MergePatches(nil, makeBatch(), UpdateAll); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	twice := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})
	if _, err := twice.MergePatches(nil, makeBatch(), UpdateAll); err != nil {
		t.Fatalf("first merge failed: %v", err)
	}
	result, err := twice.MergePatches(nil, makeBatch(), UpdateAll)
	if err != nil {
		t.Fatalf("second merge failed: %v", err)
	}
	if len(result.Inserted) != 0 {
		t.Errorf("second merge must insert nothing, inserted %d", len(result.Inserted))
	}

	for _, table := range []string{"patches", "lists", "patch_in_list"} {
		if a, b := mustCount(t, once, table), mustCount(t, twice, table); a != b {
			t.Errorf("table %s differs after double merge: %d != %d", table, a, b)
		}
	}
}

func TestMergeCreatesImportList(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	source := librarian.FromSynthSource(time.Now(), sy.Bank(0))
	var batch []*librarian.PatchHolder
	for i := 0; i < 3; i++ {
		holder := makeTestHolder(sy, "Patch", sy.Bank(0), i, nil)
		holder.SourceInfo = source
		batch = append(batch, holder)
	}
	if _, err := db.MergePatches(nil, batch, UpdateAll); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	imports, err := db.ImportsForSynth(sy.Name)
	if err != nil {
		t.Fatalf("failed to list imports: %v", err)
	}
	if len(imports) != 1 {
		t.Fatalf("expected 1 import list, got %d", len(imports))
	}
	if imports[0].PatchCount != 3 {
		t.Errorf("expected 3 patches in the import, got %d", imports[0].PatchCount)
	}
}

func TestEditBufferImportsShareStableList(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	first := makeTestHolder(sy, "One", sy.Bank(0), 0, sysexPayload(0x71))
	first.SourceInfo = librarian.FromSynthSource(time.Now(), synth.InvalidBank())
	second := makeTestHolder(sy, "Two", sy.Bank(0), 1, sysexPayload(0x72))
	second.SourceInfo = librarian.FromSynthSource(time.Now().Add(time.Hour), synth.InvalidBank())

	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{first}, UpdateAll); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{second}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	imports, err := db.ImportsForSynth(sy.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(imports) != 1 {
		t.Fatalf("edit buffer imports must share one list, got %d", len(imports))
	}
	if imports[0].ID != "import:TestSynth:EditBufferImport" {
		t.Errorf("unexpected import id %s", imports[0].ID)
	}
	if imports[0].PatchCount != 2 {
		t.Errorf("expected both patches in the list, got %d", imports[0].PatchCount)
	}
}

func TestMergeKeepsFavoriteWhenIncomingUnknown(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	stored := makeTestHolder(sy, "Patch", sy.Bank(0), 0, sysexPayload(0x44))
	stored.Favorite = librarian.FavoriteYes
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{stored}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	incoming := makeTestHolder(sy, "Patch", sy.Bank(0), 0, sysexPayload(0x44))
	incoming.Favorite = librarian.FavoriteUnknown
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{incoming}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.GetSinglePatch(sy, stored.MD5())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Favorite != librarian.FavoriteYes {
		t.Errorf("unknown incoming favorite must keep the stored ruling, got %d", loaded.Favorite)
	}
}

func TestMergeSuppressesDefaultNames(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	sy.Capabilities.IsDefaultName = func(name string) bool { return name == "INIT" }
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	good := makeTestHolder(sy, "Cool Lead", sy.Bank(0), 0, sysexPayload(0x55))
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{good}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	defaultNamed := makeTestHolder(sy, "INIT", sy.Bank(0), 0, sysexPayload(0x55))
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{defaultNamed}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.GetSinglePatch(sy, good.MD5())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name() != "Cool Lead" {
		t.Errorf("a default name must not overwrite a real one, got %s", loaded.Name())
	}
}

func TestMergeRespectsUserCategoryDecisions(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})
	pad := categoryByName(t, db, "Pad")
	lead := categoryByName(t, db, "Lead")

	stored := makeTestHolder(sy, "Patch", sy.Bank(0), 0, sysexPayload(0x66))
	stored.SetCategory(pad, true)
	stored.SetUserDecision(pad)
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{stored}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	// A reimport tagged automatically with Lead only must not shake
	// off the user's Pad ruling
	incoming := makeTestHolder(sy, "Patch", sy.Bank(0), 0, sysexPayload(0x66))
	incoming.SetCategory(lead, true)
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{incoming}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.GetSinglePatch(sy, stored.MD5())
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Categories.Contains(pad) {
		t.Error("user-decided category lost in merge")
	}
	if !loaded.UserDecisions.Contains(pad) {
		t.Error("user decision lost in merge")
	}
	if !loaded.Categories.Contains(lead) {
		t.Error("new automatic category missing after merge")
	}
}

func TestFilterCompositionality(t *testing.T) {
	sy := newTestSynth("TestSynth", 2, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})
	pad := categoryByName(t, db, "Pad")

	var batch []*librarian.PatchHolder
	for i := 0; i < 10; i++ {
		holder := makeTestHolder(sy, "Patch", sy.Bank(i%2), i, sysexPayload(byte(i+1)))
		if i%2 == 0 {
			holder.Favorite = librarian.FavoriteYes
		}
		if i%3 == 0 {
			holder.SetCategory(pad, true)
		}
		if i == 9 {
			holder.Hidden = true
		}
		batch = append(batch, holder)
	}
	if _, err := db.MergePatches(nil, batch, UpdateAll); err != nil {
		t.Fatal(err)
	}

	filters := []PatchFilter{
		NewPatchFilter(sy.Name),
		func() PatchFilter {
			f := NewPatchFilter(sy.Name)
			f.OnlyFaves = true
			return f
		}(),
		func() PatchFilter {
			f := NewPatchFilter(sy.Name)
			f.ShowHidden = true
			return f
		}(),
		func() PatchFilter {
			f := NewPatchFilter(sy.Name)
			f.Categories = librarian.NewCategorySet(pad)
			return f
		}(),
		func() PatchFilter {
			f := NewPatchFilter(sy.Name)
			f.Name = "Patch"
			f.OrderBy = OrderByName
			return f
		}(),
	}
	for i, filter := range filters {
		count, err := db.CountPatches(filter)
		if err != nil {
			t.Fatalf("filter %d count failed: %v", i, err)
		}
		patches, _, err := db.GetPatches(filter, 0, -1)
		if err != nil {
			t.Fatalf("filter %d query failed: %v", i, err)
		}
		if count != len(patches) {
			t.Errorf("filter %d: count %d != %d rows", i, count, len(patches))
		}
	}
}

func TestDefaultVisibilityExcludesHidden(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	visible := makeTestHolder(sy, "Visible", sy.Bank(0), 0, sysexPayload(0x01))
	hidden := makeTestHolder(sy, "Hidden", sy.Bank(0), 1, sysexPayload(0x02))
	hidden.Hidden = true
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{visible, hidden}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	patches, _, err := db.GetPatches(NewPatchFilter(sy.Name), 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 || patches[0].Name() != "Visible" {
		t.Fatalf("default visibility must exclude hidden patches, got %d", len(patches))
	}

	withHidden := NewPatchFilter(sy.Name)
	withHidden.ShowHidden = true
	patches, _, err = db.GetPatches(withHidden, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 || patches[0].Name() != "Hidden" {
		t.Fatalf("show-hidden selects the hidden class, got %d", len(patches))
	}
}

func TestCategoryFilterAndOrModes(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})
	pad := categoryByName(t, db, "Pad")
	lead := categoryByName(t, db, "Lead")

	both := makeTestHolder(sy, "Both", sy.Bank(0), 0, sysexPayload(0x01))
	both.SetCategory(pad, true)
	both.SetCategory(lead, true)
	padOnly := makeTestHolder(sy, "PadOnly", sy.Bank(0), 1, sysexPayload(0x02))
	padOnly.SetCategory(pad, true)
	none := makeTestHolder(sy, "None", sy.Bank(0), 2, sysexPayload(0x03))
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{both, padOnly, none}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	orFilter := NewPatchFilter(sy.Name)
	orFilter.Categories = librarian.NewCategorySet(pad, lead)
	count, err := db.CountPatches(orFilter)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("OR mode expected 2 patches, got %d", count)
	}

	andFilter := orFilter
	andFilter.AndCategories = true
	count, err = db.CountPatches(andFilter)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("AND mode expected 1 patch, got %d", count)
	}

	untagged := NewPatchFilter(sy.Name)
	untagged.OnlyUntagged = true
	count, err = db.CountPatches(untagged)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("untagged expected 1 patch, got %d", count)
	}
}

func TestOnlyDuplicateNames(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 8)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	batch := []*librarian.PatchHolder{
		makeTestHolder(sy, "Same", sy.Bank(0), 0, sysexPayload(0x01)),
		makeTestHolder(sy, "Same", sy.Bank(0), 1, sysexPayload(0x02)),
		makeTestHolder(sy, "Unique", sy.Bank(0), 2, sysexPayload(0x03)),
	}
	if _, err := db.MergePatches(nil, batch, UpdateAll); err != nil {
		t.Fatal(err)
	}

	filter := NewPatchFilter(sy.Name)
	filter.OnlyDuplicateNames = true
	count, err := db.CountPatches(filter)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected the 2 name-sharing patches, got %d", count)
	}
}

func TestDeleteRespectsBanks(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 2)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	banked := makeTestHolder(sy, "Banked", sy.Bank(0), 0, sysexPayload(0x01))
	loose := makeTestHolder(sy, "Loose", sy.Bank(0), 1, sysexPayload(0x02))
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{banked, loose}, UpdateAll); err != nil {
		t.Fatal(err)
	}

	bank := librarian.NewSynthBank(sy, sy.Bank(0), time.Now())
	bank.SetPatches([]*librarian.PatchHolder{banked})
	if err := db.PutSynthBank(bank, librarian.ListTypeSynthBank); err != nil {
		t.Fatalf("failed to store bank: %v", err)
	}

	filter := NewPatchFilter(sy.Name)
	filter.TurnOnAll()
	deleted, hidden, err := db.DeletePatches(filter)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if hidden != 1 {
		t.Errorf("expected the banked patch to be hidden, hidden=%d", hidden)
	}
	if deleted != 1 {
		t.Errorf("expected the loose patch to be deleted, deleted=%d", deleted)
	}

	// The banked patch survives as hidden
	survivor, err := db.GetSinglePatch(sy, banked.MD5())
	if err != nil {
		t.Fatal(err)
	}
	if survivor == nil || !survivor.Hidden {
		t.Error("banked patch must survive as hidden")
	}

	// No orphans are left behind
	var orphans int
	err = db.db.QueryRow(`
		SELECT COUNT(*) FROM patch_in_list WHERE NOT EXISTS (
			SELECT 1 FROM patches WHERE patches.md5 = patch_in_list.md5 AND patches.synth = patch_in_list.synth
		)`).Scan(&orphans)
	if err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("expected no orphan list entries, got %d", orphans)
	}
}

func TestReindexPatches(t *testing.T) {
	sy := newTestSynth("TestSynth", 1, 4)
	db := openTestStore(t, map[string]*synth.Synth{sy.Name: sy})

	a := makeTestHolder(sy, "A", sy.Bank(0), 0, sysexPayload(0x01, 0x10))
	b := makeTestHolder(sy, "B", sy.Bank(0), 1, sysexPayload(0x02, 0x20))
	if _, err := db.MergePatches(nil, []*librarian.PatchHolder{a, b}, UpdateAll); err != nil {
		t.Fatal(err)
	}
	oldMD5 := a.MD5()

	list := librarian.NewPatchList("Keeps A")
	list.SetPatches([]*librarian.PatchHolder{a})
	if err := db.PutPatchList(list, librarian.ListTypeNormal); err != nil {
		t.Fatal(err)
	}

	// The adapter changes its fingerprint algorithm: the last byte is
	// no longer voice-relevant
	sy.Capabilities.FilterVoiceRelevantData = func(d *synth.DataFile) []byte {
		return d.Data[:len(d.Data)-2]
	}
	newMD5 := a.MD5()
	if newMD5 == oldMD5 {
		t.Fatal("test setup broken, fingerprint did not change")
	}

	filter := NewPatchFilter(sy.Name)
	filter.TurnOnAll()
	count, err := db.ReindexPatches(filter)
	if err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 patches after reindex, got %d", count)
	}

	// The old row is gone, the new fingerprint is in place
	if stale, err := db.GetSinglePatch(sy, oldMD5); err != nil || stale != nil {
		t.Errorf("stale row must be deleted, got %v err %v", stale, err)
	}
	if fresh, err := db.GetSinglePatch(sy, newMD5); err != nil || fresh == nil {
		t.Errorf("reindexed row missing, err %v", err)
	}

	// The list reference followed the rename
	var md5InList string
	if err := db.db.QueryRow("SELECT md5 FROM patch_in_list WHERE id = ?", list.ID()).Scan(&md5InList); err != nil {
		t.Fatal(err)
	}
	if md5InList != newMD5 {
		t.Errorf("list entry still points at %s", md5InList)
	}
}

func TestReindexRequiresSingleSynth(t *testing.T) {
	syA := newTestSynth("SynthA", 1, 4)
	syB := newTestSynth("SynthB", 1, 4)
	db := openTestStore(t, map[string]*synth.Synth{syA.Name: syA, syB.Name: syB})

	if _, err := db.ReindexPatches(NewPatchFilter(syA.Name, syB.Name)); err == nil {
		t.Fatal("reindexing across synths must be refused")
	}
}
