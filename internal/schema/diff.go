package schema

import "fmt"

// ChangeKind identifies a single structural difference between an applied
// snapshot and the declared definition.
type ChangeKind string

const (
	AddColumn    ChangeKind = "add_column"
	DropColumn   ChangeKind = "drop_column"
	AlterType    ChangeKind = "alter_type"
	AlterNull    ChangeKind = "alter_null"
	AlterDefault ChangeKind = "alter_default"
	AddIndex     ChangeKind = "add_index"
	RemoveIndex  ChangeKind = "remove_index"
)

// Change is one structural difference. DDL renders it as a single statement.
type Change struct {
	Kind   ChangeKind
	Column *Column
	Index  *Index
	// Name is the column or index being dropped when only a name is needed.
	Name string
}

// Diff computes the structural differences needed to take a table from the
// applied snapshot to the declared definition. An empty result means the
// schema is current.
func Diff(applied, declared Table) []Change {
	var changes []Change

	for _, col := range declared.Columns {
		prev, ok := applied.Column(col.Name)
		if !ok {
			c := col
			changes = append(changes, Change{Kind: AddColumn, Column: &c})
			continue
		}
		if prev.DataType != col.DataType {
			c := col
			changes = append(changes, Change{Kind: AlterType, Column: &c})
		}
		if prev.Nullable != col.Nullable {
			c := col
			changes = append(changes, Change{Kind: AlterNull, Column: &c})
		}
		if !defaultEqual(prev.Default, col.Default) {
			c := col
			changes = append(changes, Change{Kind: AlterDefault, Column: &c})
		}
	}
	for _, col := range applied.Columns {
		if _, ok := declared.Column(col.Name); !ok {
			changes = append(changes, Change{Kind: DropColumn, Name: col.Name})
		}
	}

	for _, ix := range declared.Indexes {
		prev, ok := applied.Index(ix.Name)
		if !ok {
			i := ix
			changes = append(changes, Change{Kind: AddIndex, Index: &i})
			continue
		}
		if !indexEqual(prev, ix) {
			// An index cannot be altered in place; rebuild it.
			i := ix
			changes = append(changes,
				Change{Kind: RemoveIndex, Name: ix.Name},
				Change{Kind: AddIndex, Index: &i})
		}
	}
	for _, ix := range applied.Indexes {
		if _, ok := declared.Index(ix.Name); !ok {
			changes = append(changes, Change{Kind: RemoveIndex, Name: ix.Name})
		}
	}

	return changes
}

// DDL renders the change as a single statement against the given table.
func (c Change) DDL(tableName string) (string, error) {
	switch c.Kind {
	case AddColumn:
		return BuildAddColumnDDL(tableName, *c.Column)
	case DropColumn:
		return BuildDropColumnDDL(tableName, c.Name)
	case AlterType:
		return BuildAlterColumnTypeDDL(tableName, c.Column.Name, c.Column.DataType)
	case AlterNull:
		return BuildAlterColumnNullDDL(tableName, c.Column.Name, c.Column.Nullable)
	case AlterDefault:
		return BuildAlterColumnDefaultDDL(tableName, c.Column.Name, c.Column.Default)
	case AddIndex:
		return BuildCreateIndexDDL(tableName, *c.Index)
	case RemoveIndex:
		return BuildDropIndexDDL(c.Name)
	}
	return "", fmt.Errorf("unknown change kind %q", c.Kind)
}

// String describes the change for operator-facing reports.
func (c Change) String() string {
	switch c.Kind {
	case AddColumn:
		return "add column " + c.Column.Name
	case DropColumn:
		return "drop column " + c.Name
	case AlterType:
		return fmt.Sprintf("alter column %s type to %s", c.Column.Name, c.Column.DataType)
	case AlterNull:
		if c.Column.Nullable {
			return "drop not null on column " + c.Column.Name
		}
		return "set not null on column " + c.Column.Name
	case AlterDefault:
		if c.Column.Default == nil {
			return "drop default on column " + c.Column.Name
		}
		return "set default on column " + c.Column.Name
	case AddIndex:
		return "create index " + c.Index.Name
	case RemoveIndex:
		return "drop index " + c.Name
	}
	return string(c.Kind)
}

func defaultEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
