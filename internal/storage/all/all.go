// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "lemonetl/internal/storage/mssql"
	_ "lemonetl/internal/storage/mysql"
	_ "lemonetl/internal/storage/postgres"
	_ "lemonetl/internal/storage/sqlite"
)
