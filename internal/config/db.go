package config

// DB holds the database connection settings for the sync engine's
// backing store.
type DB struct {
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	GormEngine string // "mysql" or "postgres"
	Extras     string // extra DSN parameters, e.g. charset and time zone
}
