package ddl

// ColumnDef describes a single column, either declared (from the schema
// registry) or live (introspected from the database).
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: backend SQL type (e.g., VARCHAR(100), numeric(15,2))
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
}

// TableDef holds the already-quoted, fully-qualified table name and an
// ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
