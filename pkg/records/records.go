// Package records defines the in-flight row representation shared by the
// extract, transform, and load stages.
package records

// Record holds one row's values keyed by canonical column name. Values are
// raw strings as parsed, or typed values (int64, float64, time.Time) after
// coercion. A nil value means NULL.
type Record map[string]any

// RowID identifies a row by its origin: the source file or source table name,
// and the 1-based row number within that origin.
type RowID struct {
	Source string
	Line   int
}

// Row couples a record with its provenance. Provenance travels alongside the
// record (not inside it) so that rejection logging never depends on slice
// positions after rows are dropped.
type Row struct {
	ID     RowID
	Fields Record
}

// Clone returns a shallow copy of the row with an independent Fields map.
func (r Row) Clone() Row {
	cp := make(Record, len(r.Fields))
	for k, v := range r.Fields {
		cp[k] = v
	}
	return Row{ID: r.ID, Fields: cp}
}
