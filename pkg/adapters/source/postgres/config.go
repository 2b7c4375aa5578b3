package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromCredentials creates a Config from a validated credential profile.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}
	cfg.Host, _ = creds.Get(models.CredentialHost)
	cfg.User, _ = creds.Get(models.CredentialUser)
	cfg.Password, _ = creds.Get(models.CredentialPassword)
	cfg.Database, _ = creds.Get(models.CredentialDatabase)

	if port, ok := creds.Get(models.CredentialPort); ok {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, &apperrors.CredentialError{Adapter: adapterType, Field: models.CredentialPort, Reason: fmt.Sprintf("has invalid value %q", port)}
		}
		cfg.Port = p
	}
	if sslMode, ok := creds.Get(models.CredentialSSLMode); ok {
		cfg.SSLMode = sslMode
	}
	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL. User-provided fields are escaped
// so passwords containing @, / or # survive URL parsing. Loopback hosts are
// rewritten when running inside Docker.
func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		config.ResolveHostForDocker(c.Host),
		c.Port,
		url.QueryEscape(c.Database),
		url.QueryEscape(sslMode),
	)
}
