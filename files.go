package alumni

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations rooted at the migrations
// directory.
func GetMigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Tables maps every portal table to its row model.
func Tables() map[string]any {
	return map[string]any{
		ProfilesTable:   (*Profile)(nil),
		ChallengesTable: (*LoginChallenge)(nil),
		MasterListTable: (*RosterEntry)(nil),
	}
}
