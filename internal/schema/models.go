package schema

// Column represents a single column in a declared table.
type Column struct {
	Name     string  `json:"name"`
	DataType string  `json:"dataType"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

// Index represents an index over one or more columns of a table.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Table is the declared definition of a table owned by one extension.
// Definitions are immutable after registration.
type Table struct {
	Name      string   `json:"name"`
	Extension string   `json:"extension"`
	Columns   []Column `json:"columns"`
	Indexes   []Index  `json:"indexes,omitempty"`
}

// Column returns the column with the given name, if present.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Index returns the index with the given name, if present.
func (t Table) Index(name string) (Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

func indexEqual(a, b Index) bool {
	if a.Name != b.Name || a.Unique != b.Unique || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}
