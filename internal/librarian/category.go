package librarian

import "sort"

// Category is one of up to 63 tags a catalog can define. The bit index
// is allocated once and never reassigned; deactivation keeps the index
// reserved so stored bitfields stay meaningful.
type Category struct {
	BitIndex  int
	Name      string
	Color     string
	Active    bool
	SortOrder int
}

// CategorySet is a set of categories keyed by bit index
type CategorySet map[int]Category

// NewCategorySet builds a set from individual categories
func NewCategorySet(cats ...Category) CategorySet {
	set := make(CategorySet, len(cats))
	for _, c := range cats {
		set[c.BitIndex] = c
	}
	return set
}

// Contains reports membership by bit index
func (s CategorySet) Contains(c Category) bool {
	_, ok := s[c.BitIndex]
	return ok
}

// Add inserts a category
func (s CategorySet) Add(c Category) {
	s[c.BitIndex] = c
}

// Remove deletes a category
func (s CategorySet) Remove(c Category) {
	delete(s, c.BitIndex)
}

// Clone returns an independent copy
func (s CategorySet) Clone() CategorySet {
	c := make(CategorySet, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Names returns the category names sorted alphabetically
func (s CategorySet) Names() []string {
	names := make([]string, 0, len(s))
	for _, c := range s {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Union returns a ∪ b
func Union(a, b CategorySet) CategorySet {
	result := a.Clone()
	for k, v := range b {
		result[k] = v
	}
	return result
}

// Intersection returns a ∩ b
func Intersection(a, b CategorySet) CategorySet {
	result := make(CategorySet)
	for k, v := range a {
		if _, ok := b[k]; ok {
			result[k] = v
		}
	}
	return result
}

// Difference returns a \ b
func Difference(a, b CategorySet) CategorySet {
	result := make(CategorySet)
	for k, v := range a {
		if _, ok := b[k]; !ok {
			result[k] = v
		}
	}
	return result
}

// Bitfield encodes the set as the stored int64 bit field
func (s CategorySet) Bitfield() int64 {
	var bits int64
	for idx := range s {
		if idx >= 0 && idx < 63 {
			bits |= 1 << uint(idx)
		}
	}
	return bits
}

// SetFromBitfield decodes a stored bit field against the current
// category definitions. Bits without a definition are dropped.
func SetFromBitfield(bits int64, defs []Category) CategorySet {
	byIndex := make(map[int]Category, len(defs))
	for _, d := range defs {
		byIndex[d.BitIndex] = d
	}
	result := make(CategorySet)
	for idx := 0; idx < 63; idx++ {
		if bits&(1<<uint(idx)) != 0 {
			if def, ok := byIndex[idx]; ok {
				result[idx] = def
			}
		}
	}
	return result
}

// DefaultCategories seeds a fresh catalog with the standard tag set
func DefaultCategories() []Category {
	names := []struct {
		name  string
		color string
	}{
		{"Lead", "ff8dd3c7"},
		{"Pad", "ffffffb3"},
		{"Brass", "ff4a75b2"},
		{"Organ", "fffb8072"},
		{"Keys", "ff80b1d3"},
		{"Bass", "fffdb462"},
		{"Arp", "ffb3de69"},
		{"Pluck", "fffccde5"},
		{"Drone", "ffd9d9d9"},
		{"Drum", "ffbc80bd"},
		{"Bell", "ffccebc5"},
		{"SFX", "ffffed6f"},
		{"Ambient", "ff869cab"},
		{"Wind", "ff317469"},
		{"Voice", "ffa75781"},
	}
	result := make([]Category, 0, len(names))
	for i, n := range names {
		result = append(result, Category{
			BitIndex:  i,
			Name:      n.name,
			Color:     n.color,
			Active:    true,
			SortOrder: i,
		})
	}
	return result
}
