package synth

// DataFile is an opaque patch payload tagged with a data type id
// (voice, tuning, waveform and so on). The owning synth interprets it;
// the librarian itself never looks inside.
type DataFile struct {
	TypeID int
	Data   []byte
}

// NewDataFile builds a data file over its own copy of the bytes
func NewDataFile(typeID int, data []byte) *DataFile {
	d := make([]byte, len(data))
	copy(d, data)
	return &DataFile{TypeID: typeID, Data: d}
}

// Clone returns an independent copy
func (d *DataFile) Clone() *DataFile {
	if d == nil {
		return nil
	}
	return NewDataFile(d.TypeID, d.Data)
}
