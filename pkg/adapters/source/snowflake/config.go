package snowflake

import (
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Config contains Snowflake connection options.
type Config struct {
	Account   string
	User      string
	Password  string
	Database  string
	Schema    string // optional
	Warehouse string // optional
	Role      string // optional
}

// FromCredentials creates a Config from a validated credential profile.
func FromCredentials(creds models.Credentials) *Config {
	cfg := &Config{}
	cfg.Account, _ = creds.Get(models.CredentialAccount)
	cfg.User, _ = creds.Get(models.CredentialUser)
	cfg.Password, _ = creds.Get(models.CredentialPassword)
	cfg.Database, _ = creds.Get(models.CredentialDatabase)
	cfg.Schema, _ = creds.Get(models.CredentialSchema)
	cfg.Warehouse, _ = creds.Get(models.CredentialWarehouse)
	cfg.Role, _ = creds.Get(models.CredentialRole)
	return cfg
}

// DSN builds the gosnowflake data source name. Optional warehouse and role
// are only sent when set.
func (c *Config) DSN() (string, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
		Role:      c.Role,
	})
	if err != nil {
		return "", fmt.Errorf("build snowflake dsn: %w", err)
	}
	return dsn, nil
}
