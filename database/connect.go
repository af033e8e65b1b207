package database

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// ConnectDB opens a raw connection to the base DSN, outside any schema pool.
// Used by migrations and one-off administrative commands.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
