package librarian

import (
	"github.com/google/uuid"
)

// ListType discriminates the stored list variants
type ListType int

const (
	ListTypeNormal    ListType = 0
	ListTypeSynthBank ListType = 1
	ListTypeUserBank  ListType = 2
	ListTypeImport    ListType = 3
)

// PatchList is an ordered, named sequence of patch references
type PatchList struct {
	id      string
	name    string
	patches []*PatchHolder
}

// NewPatchList creates a list with a fresh uuid
func NewPatchList(name string) *PatchList {
	return &PatchList{id: uuid.NewString(), name: name}
}

// NewPatchListWithID restores a list with a known id, as when loading
// from the catalog.
func NewPatchListWithID(id, name string) *PatchList {
	return &PatchList{id: id, name: name}
}

// ID returns the list id
func (l *PatchList) ID() string { return l.id }

// Name returns the list name
func (l *PatchList) Name() string { return l.name }

// SetName renames the list
func (l *PatchList) SetName(name string) { l.name = name }

// Patches returns the entries in order
func (l *PatchList) Patches() []*PatchHolder {
	return append([]*PatchHolder{}, l.patches...)
}

// SetPatches replaces the whole content
func (l *PatchList) SetPatches(patches []*PatchHolder) {
	l.patches = append([]*PatchHolder{}, patches...)
}

// AddPatch appends one entry
func (l *PatchList) AddPatch(p *PatchHolder) {
	l.patches = append(l.patches, p)
}

// Len returns the entry count
func (l *PatchList) Len() int { return len(l.patches) }

// InsertAtTopAndRemoveDuplicates puts the patch at index 0 and drops
// every other entry with the same (synth, fingerprint).
func (l *PatchList) InsertAtTopAndRemoveDuplicates(p *PatchHolder) {
	kept := make([]*PatchHolder, 0, len(l.patches)+1)
	kept = append(kept, p)
	for _, entry := range l.patches {
		if entry.SynthName() == p.SynthName() && entry.MD5() == p.MD5() {
			continue
		}
		kept = append(kept, entry)
	}
	l.patches = kept
}
