// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "welletl/internal/storage/mssql"
	_ "welletl/internal/storage/postgres"
	_ "welletl/internal/storage/sqlite"
)
