// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. After that, the following kinds
// are available to storage.Open:
//
//   - "sqlite"   (silver/internal/storage/sqlite)
//   - "postgres" (silver/internal/storage/postgres)
//   - "mysql"    (silver/internal/storage/mysql)
//   - "mssql"    (silver/internal/storage/mssql)
//
// Typical usage (in cmd/silver or a similar wiring layer):
//
//	import _ "silver/internal/storage/all"
//
//	db, err := storage.Open(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN}, log)
//
// A binary that supports only a subset of backends can import the backend
// packages it needs instead of this one.
package all

import (
	_ "silver/internal/storage/mssql"
	_ "silver/internal/storage/mysql"
	_ "silver/internal/storage/postgres"
	_ "silver/internal/storage/sqlite"
)
