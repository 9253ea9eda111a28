// Package migrations embeds the SQL migration files into the binary.
//
// The embedded filesystem is handed to the database package at startup so
// the registry schema can be created and upgraded without shipping loose
// SQL files alongside the binary.
package migrations

import (
	"embed"

	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
