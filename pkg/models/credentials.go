package models

import "sort"

// Well-known credential field names.
const (
	CredentialUser      = "user"
	CredentialPassword  = "password"
	CredentialAccount   = "account"
	CredentialDatabase  = "database"
	CredentialSchema    = "schema"
	CredentialWarehouse = "warehouse"
	CredentialRole      = "role"
	CredentialHost      = "host"
	CredentialPort      = "port"
	CredentialSSLMode   = "ssl_mode"
	CredentialEncrypt   = "encrypt"
	CredentialPath      = "path"
)

// Credentials is one named profile of connection fields.
type Credentials struct {
	Profile string
	Fields  map[string]string
}

// Get returns a field value and whether it was set to a non-empty value.
func (c Credentials) Get(field string) (string, bool) {
	v, ok := c.Fields[field]
	return v, ok && v != ""
}

// Names returns the populated field names, sorted.
func (c Credentials) Names() []string {
	names := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
