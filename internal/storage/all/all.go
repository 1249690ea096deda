// Package all registers every storage backend and the drivers they need.
// Binaries import it for side effects; the configured kind picks one.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "elt/internal/storage/mssql"
	_ "elt/internal/storage/postgres"
	_ "elt/internal/storage/sqlite"
)
