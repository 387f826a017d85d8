package app

import (
	"strings"

	"github.com/taskhive/taskhive/internal/database"
)

// DatabaseSettings converts DatabaseConfig into database.Config for the selected driver.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var hosted *DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		hosted = &c.Postgres
	case "mysql":
		hosted = &c.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	if hosted != nil {
		dbCfg.Host = strings.TrimSpace(hosted.Host)
		dbCfg.Port = hosted.Port
		dbCfg.Name = strings.TrimSpace(hosted.Database)
		dbCfg.User = strings.TrimSpace(hosted.Username)
		dbCfg.Password = hosted.Password
	}
	return dbCfg
}
