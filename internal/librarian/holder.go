package librarian

import (
	"github.com/franz/sysex-librarian/internal/synth"
)

// Favorite is the tri-state favorite flag
type Favorite int

const (
	FavoriteUnknown Favorite = -1
	FavoriteNo      Favorite = 0
	FavoriteYes     Favorite = 1
)

// FavoriteFromInt maps the stored integer back to the tri-state
func FavoriteFromInt(v int) Favorite {
	switch v {
	case 0:
		return FavoriteNo
	case 1:
		return FavoriteYes
	default:
		return FavoriteUnknown
	}
}

// PatchHolder is the unit the catalog stores: a patch plus all its
// metadata. The synth reference is a plain pointer to the registry's
// synth, so a holder keeps its synth reachable; only the catalog
// refers to the synth by name (see SynthName).
type PatchHolder struct {
	Synth *synth.Synth
	Patch *synth.DataFile

	name string

	Favorite Favorite
	Hidden   bool
	Regular  bool

	Bank    synth.BankNumber
	Program synth.ProgramNumber

	Categories    CategorySet
	UserDecisions CategorySet

	Comment string
	Author  string
	Info    string

	SourceInfo *SourceInfo
	sourceID   string
}

// NewPatchHolder builds a holder, picking up the stored patch name if
// the synth can read one.
func NewPatchHolder(sy *synth.Synth, source *SourceInfo, patch *synth.DataFile) *PatchHolder {
	h := &PatchHolder{
		Synth:         sy,
		Patch:         patch,
		Favorite:      FavoriteUnknown,
		Bank:          synth.InvalidBank(),
		Program:       synth.InvalidProgram(),
		Categories:    make(CategorySet),
		UserDecisions: make(CategorySet),
		SourceInfo:    source,
	}
	if patch != nil && sy != nil {
		h.name = sy.NameForPatch(patch)
	}
	return h
}

// MD5 is the patch fingerprint under its synth's voice filter
func (h *PatchHolder) MD5() string {
	if h.Synth == nil || h.Patch == nil {
		return ""
	}
	return h.Synth.Fingerprint(h.Patch)
}

// SynthName returns the owning synth's name, the weak reference the
// catalog stores.
func (h *PatchHolder) SynthName() string {
	if h.Synth == nil {
		return ""
	}
	return h.Synth.Name
}

// Name returns the display name
func (h *PatchHolder) Name() string {
	return h.name
}

// SetName renames the holder. If the synth can rewrite the name inside
// the patch data, that happens too and the device-limited result wins.
func (h *PatchHolder) SetName(newName string) {
	if h.Synth != nil && h.Patch != nil && h.Synth.Capabilities.RenamePatch != nil {
		h.name = h.Synth.Capabilities.RenamePatch(h.Patch, newName)
		return
	}
	h.name = newName
}

// HasDefaultName reports a factory placeholder name like INIT
func (h *PatchHolder) HasDefaultName() bool {
	if h.Synth == nil || h.Synth.Capabilities.IsDefaultName == nil {
		return false
	}
	return h.Synth.Capabilities.IsDefaultName(h.name)
}

// SetCategory adds or removes a single category
func (h *PatchHolder) SetCategory(c Category, hasIt bool) {
	if hasIt {
		h.Categories.Add(c)
	} else {
		h.Categories.Remove(c)
	}
}

// SetUserDecision marks that the user has explicitly ruled on this
// category, whether set or unset.
func (h *PatchHolder) SetUserDecision(c Category) {
	h.UserDecisions.Add(c)
}

// SourceID returns the import id if the holder was loaded from the
// catalog; empty for fresh imports.
func (h *PatchHolder) SourceID() string {
	return h.sourceID
}

// SetSourceID records the import id a loaded holder belongs to
func (h *PatchHolder) SetSourceID(id string) {
	h.sourceID = id
}

// Clone returns a deep copy of the holder
func (h *PatchHolder) Clone() *PatchHolder {
	c := *h
	c.Patch = h.Patch.Clone()
	c.Categories = h.Categories.Clone()
	c.UserDecisions = h.UserDecisions.Clone()
	return &c
}
