package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Config contains SQL Server connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromCredentials creates a Config from a validated credential profile.
// Encryption defaults to on.
func FromCredentials(creds models.Credentials) (*Config, error) {
	cfg := &Config{Port: DefaultPort(), Encrypt: true}
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
	if encrypt, ok := creds.Get(models.CredentialEncrypt); ok {
		b, err := strconv.ParseBool(encrypt)
		if err != nil {
			return nil, &apperrors.CredentialError{Adapter: adapterType, Field: models.CredentialEncrypt, Reason: fmt.Sprintf("has invalid value %q", encrypt)}
		}
		cfg.Encrypt = b
	}
	return cfg, nil
}

// ConnectionString builds a sqlserver:// URL using SQL authentication.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", strconv.FormatBool(c.Encrypt))

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		config.ResolveHostForDocker(c.Host),
		c.Port,
		query.Encode(),
	)
}
