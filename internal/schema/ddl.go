package schema

import (
	"fmt"
	"strings"
)

// Column defaults are raw SQL expressions declared in extension code, not
// user input, so they are embedded as-is after a statement-break guard.
func sanitizeDefault(expr string) (string, error) {
	if strings.ContainsAny(expr, ";") {
		return "", fmt.Errorf("invalid default expression %q", expr)
	}
	return expr, nil
}

func columnDDL(col Column) (string, error) {
	if !ValidIdentifier(col.Name) {
		return "", fmt.Errorf("invalid column name %q", col.Name)
	}
	safeType, err := sanitizeType(col.DataType)
	if err != nil {
		return "", err
	}

	parts := []string{sanitizeIdentifier(col.Name), safeType}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		expr, err := sanitizeDefault(*col.Default)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+expr)
	}
	return strings.Join(parts, " "), nil
}

// BuildCreateTableDDL constructs a CREATE TABLE statement for a declared
// definition. Index creation is emitted separately by BuildCreateIndexDDL.
func BuildCreateTableDDL(def Table) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	cols := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		ddl, err := columnDDL(col)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", def.Name, err)
		}
		cols = append(cols, ddl)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)",
		sanitizeIdentifier(def.Name), strings.Join(cols, ", ")), nil
}

// BuildAddColumnDDL constructs an ALTER TABLE ADD COLUMN statement.
func BuildAddColumnDDL(tableName string, col Column) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	ddl, err := columnDDL(col)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		sanitizeIdentifier(tableName), ddl), nil
}

// BuildDropColumnDDL constructs an ALTER TABLE DROP COLUMN statement.
func BuildDropColumnDDL(tableName, columnName string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	if !ValidIdentifier(columnName) {
		return "", fmt.Errorf("invalid column name %q", columnName)
	}
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		sanitizeIdentifier(tableName), sanitizeIdentifier(columnName)), nil
}

// BuildAlterColumnTypeDDL constructs an ALTER COLUMN TYPE statement. The
// change is attempted unconditionally; an incompatible narrowing is left for
// the database to reject.
func BuildAlterColumnTypeDDL(tableName, columnName, dataType string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	if !ValidIdentifier(columnName) {
		return "", fmt.Errorf("invalid column name %q", columnName)
	}
	safeType, err := sanitizeType(dataType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
		sanitizeIdentifier(tableName), sanitizeIdentifier(columnName), safeType), nil
}

// BuildAlterColumnNullDDL constructs an ALTER COLUMN SET/DROP NOT NULL statement.
func BuildAlterColumnNullDDL(tableName, columnName string, nullable bool) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	if !ValidIdentifier(columnName) {
		return "", fmt.Errorf("invalid column name %q", columnName)
	}
	action := "SET NOT NULL"
	if nullable {
		action = "DROP NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s",
		sanitizeIdentifier(tableName), sanitizeIdentifier(columnName), action), nil
}

// BuildAlterColumnDefaultDDL constructs an ALTER COLUMN SET/DROP DEFAULT
// statement. A nil expr drops the default.
func BuildAlterColumnDefaultDDL(tableName, columnName string, expr *string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	if !ValidIdentifier(columnName) {
		return "", fmt.Errorf("invalid column name %q", columnName)
	}
	if expr == nil {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT",
			sanitizeIdentifier(tableName), sanitizeIdentifier(columnName)), nil
	}
	safe, err := sanitizeDefault(*expr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
		sanitizeIdentifier(tableName), sanitizeIdentifier(columnName), safe), nil
}

// BuildCreateIndexDDL constructs a CREATE INDEX statement.
func BuildCreateIndexDDL(tableName string, ix Index) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	if !ValidIdentifier(ix.Name) {
		return "", fmt.Errorf("invalid index name %q", ix.Name)
	}
	cols := make([]string, 0, len(ix.Columns))
	for _, col := range ix.Columns {
		if !ValidIdentifier(col) {
			return "", fmt.Errorf("invalid index column %q", col)
		}
		cols = append(cols, sanitizeIdentifier(col))
	}
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, sanitizeIdentifier(ix.Name), sanitizeIdentifier(tableName),
		strings.Join(cols, ", ")), nil
}

// BuildDropIndexDDL constructs a DROP INDEX statement.
func BuildDropIndexDDL(indexName string) (string, error) {
	if !ValidIdentifier(indexName) {
		return "", fmt.Errorf("invalid index name %q", indexName)
	}
	return "DROP INDEX " + sanitizeIdentifier(indexName), nil
}

// BuildDropTableDDL constructs a DROP TABLE statement.
func BuildDropTableDDL(tableName string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	return "DROP TABLE " + sanitizeIdentifier(tableName), nil
}
