package schema

import (
	"fmt"
	"strings"
)

// TypeInfo represents a PostgreSQL data type with metadata.
type TypeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// AllowedTypes is the canonical list of column types extensions may declare.
var AllowedTypes = []TypeInfo{
	// String types
	{Name: "text", Description: "Variable length string", Category: "String"},
	{Name: "varchar", Description: "Variable length (limited)", Category: "String"},
	{Name: "char", Description: "Fixed length", Category: "String"},

	// Numeric types
	{Name: "smallint", Description: "16-bit integer", Category: "Numeric"},
	{Name: "integer", Description: "32-bit integer", Category: "Numeric"},
	{Name: "bigint", Description: "64-bit integer", Category: "Numeric"},
	{Name: "numeric", Description: "Decimal number", Category: "Numeric"},
	{Name: "real", Description: "32-bit floating point", Category: "Numeric"},
	{Name: "double precision", Description: "64-bit floating point", Category: "Numeric"},

	// Serial types
	{Name: "serial", Description: "Auto-increment 32-bit", Category: "Serial"},
	{Name: "bigserial", Description: "Auto-increment 64-bit", Category: "Serial"},

	// Boolean
	{Name: "boolean", Description: "true/false", Category: "Boolean"},

	// Date/Time types
	{Name: "date", Description: "Date only", Category: "Date/Time"},
	{Name: "time", Description: "Time only", Category: "Date/Time"},
	{Name: "timestamp", Description: "Date and time", Category: "Date/Time"},
	{Name: "timestamptz", Description: "Timestamp with timezone", Category: "Date/Time"},

	// UUID
	{Name: "uuid", Description: "UUID", Category: "UUID"},

	// JSON types
	{Name: "json", Description: "JSON data", Category: "JSON"},
	{Name: "jsonb", Description: "Binary JSON data", Category: "JSON"},

	// Binary
	{Name: "bytea", Description: "Binary data", Category: "Binary"},
}

// allowedTypesMap is built from AllowedTypes for O(1) lookup
var allowedTypesMap = buildAllowedTypesMap()

func buildAllowedTypesMap() map[string]bool {
	m := make(map[string]bool)
	for _, t := range AllowedTypes {
		m[t.Name] = true
	}
	return m
}

// ValidIdentifier checks if a name is a valid SQL identifier.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !((r >= 'a' && r <= 'z') || r == '_') {
				return false
			}
		} else {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
				return false
			}
		}
	}
	return true
}

// sanitizeIdentifier ensures the identifier is safe for SQL.
// Escapes double quotes and wraps in quotes to prevent injection.
func sanitizeIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// IsValidType checks if the given type name is in the allowed types list.
func IsValidType(t string) bool {
	return allowedTypesMap[t]
}

// sanitizeType validates and returns a safe type name.
func sanitizeType(t string) (string, error) {
	if allowedTypesMap[t] {
		return t, nil
	}
	return "", fmt.Errorf("unsupported column type %q", t)
}

// Validate checks a declared table definition for structural problems before
// it is accepted by the registry or turned into DDL.
func (t Table) Validate() error {
	if !ValidIdentifier(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s declares no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !ValidIdentifier(c.Name) {
			return fmt.Errorf("table %s: invalid column name %q", t.Name, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		if _, err := sanitizeType(c.DataType); err != nil {
			return fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
	}
	for _, ix := range t.Indexes {
		if !ValidIdentifier(ix.Name) {
			return fmt.Errorf("table %s: invalid index name %q", t.Name, ix.Name)
		}
		if len(ix.Columns) == 0 {
			return fmt.Errorf("table %s index %s: no columns", t.Name, ix.Name)
		}
		for _, col := range ix.Columns {
			if !seen[col] {
				return fmt.Errorf("table %s index %s: unknown column %s", t.Name, ix.Name, col)
			}
		}
	}
	return nil
}
