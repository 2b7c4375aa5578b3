package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// CredentialsFile holds named connection profiles for sources and targets.
//
//	sources:
//	  - name: default
//	    adapter: snowflake
//	    account: xy12345
//	    password: ${SNOWFLAKE_PASSWORD}
type CredentialsFile struct {
	Version string    `yaml:"version"`
	Sources []Profile `yaml:"sources"`
	Targets []Profile `yaml:"targets"`
}

// Profile is one named profile. Every key other than name and adapter is
// a credential field passed to the adapter.
type Profile struct {
	Name    string
	Adapter string
	Fields  map[string]string
}

// envReference matches a value that is exactly ${NAME}.
var envReference = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// UnmarshalYAML accepts a flat mapping of scalar values.
func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: profile must be a mapping", node.Line)
	}
	p.Fields = make(map[string]string)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: profile field %q must be a scalar", value.Line, key.Value)
		}
		v := value.Value
		if m := envReference.FindStringSubmatch(v); m != nil {
			v = os.Getenv(m[1])
		}
		switch key.Value {
		case "name":
			p.Name = v
		case "adapter":
			p.Adapter = v
		default:
			p.Fields[key.Value] = v
		}
	}
	return nil
}

// Credentials returns the adapter-facing view of the profile.
func (p Profile) Credentials() models.Credentials {
	fields := make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	return models.Credentials{Profile: p.Name, Fields: fields}
}

// LoadCredentials reads and validates a credentials file.
func LoadCredentials(path string) (*CredentialsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials %s: %w", path, err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes a credentials document.
func ParseCredentials(data []byte) (*CredentialsFile, error) {
	var creds CredentialsFile
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, apperrors.Configurationf("credentials: %v", err)
	}
	if err := validateProfiles("sources", creds.Sources); err != nil {
		return nil, err
	}
	if err := validateProfiles("targets", creds.Targets); err != nil {
		return nil, err
	}
	return &creds, nil
}

func validateProfiles(section string, profiles []Profile) error {
	seen := make(map[string]struct{}, len(profiles))
	for i, p := range profiles {
		if p.Name == "" || p.Adapter == "" {
			return apperrors.Configurationf("credentials %s[%d]: name and adapter are required", section, i)
		}
		if _, dup := seen[p.Name]; dup {
			return apperrors.Configurationf("credentials %s: duplicate profile %q", section, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Source finds a source profile by name.
func (c *CredentialsFile) Source(name string) (Profile, error) {
	return findProfile("source", c.Sources, name)
}

// Target finds a target profile by name.
func (c *CredentialsFile) Target(name string) (Profile, error) {
	return findProfile("target", c.Targets, name)
}

func findProfile(kind string, profiles []Profile, name string) (Profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, apperrors.Configurationf("no %s profile named %q in credentials", kind, name)
}
