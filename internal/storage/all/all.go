// Package all registers every storage backend with the factory. The binary
// blank-imports this package so that configuration alone selects a backend.
package all

import (
	_ "salesetl/internal/storage/mysql"
	_ "salesetl/internal/storage/postgres"
	_ "salesetl/internal/storage/sqlite"
)
