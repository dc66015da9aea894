// Package migrations embeds the SQL schema files so the binary can migrate
// its database without the files on disk. Importing it for side effects
// registers them with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/plc-remote/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
