package tabledb

// Row is an ordered sequence of cells. Cell 0 is conventionally the id.
type Row []string

// Cell returns the cell at i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Clone returns a deep copy of the row. A nil row clones to an empty one.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Pad returns a copy of the row extended with empty cells to at least n cells.
// Longer rows are kept as is.
func (r Row) Pad(n int) Row {
	out := make(Row, max(len(r), n))
	copy(out, r)
	return out
}
