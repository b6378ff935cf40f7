// Package all registers every storage backend with the storage factory.
//
// Binaries blank-import it; configuration selects the backend by kind.
package all

import (
	_ "powerdash/internal/storage/mssql"
	_ "powerdash/internal/storage/postgres"
	_ "powerdash/internal/storage/sqlite"
)
