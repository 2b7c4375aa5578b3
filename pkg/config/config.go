package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Config is a replica file: what to sample from where, and which container
// to materialize it into.
// Values come from the YAML file; environment variables override the
// top-level fields that declare an env tag.
type Config struct {
	Version string `yaml:"version" env-default:"1"`
	Name    string `yaml:"name" env:"REPLICA_NAME"`

	// CredPath is the credentials file. Relative paths resolve against the
	// replica file's directory.
	CredPath string `yaml:"credpath" env:"REPLICA_CREDPATH" env-default:"credentials.yml"`

	// Threads bounds how many relations are sampled concurrently.
	Threads int `yaml:"threads" env:"REPLICA_THREADS" env-default:"4"`

	Source SourceConfig `yaml:"source"`
	Target TargetConfig `yaml:"target"`
}

// SourceConfig selects the source profile and the default sampling policy.
type SourceConfig struct {
	Profile   string   `yaml:"profile" env:"REPLICA_SOURCE_PROFILE" env-default:"default"`
	Databases []string `yaml:"databases"`

	Sampling SamplingConfig `yaml:"sampling"`

	// MaxCount is the per-relation row limit enforced by the count guard.
	MaxCount int64 `yaml:"max_count" env:"REPLICA_MAX_COUNT" env-default:"50000"`

	// Relations override the defaults and declare relationships.
	Relations []RelationConfig `yaml:"specified_relations"`
}

// SamplingConfig is a sampling method and probability in percent.
type SamplingConfig struct {
	Method      string  `yaml:"method" env:"REPLICA_SAMPLE_METHOD" env-default:"bernoulli"`
	Probability float64 `yaml:"probability" env:"REPLICA_SAMPLE_PROBABILITY" env-default:"10"`
}

// SampleType parses the configured method.
func (s SamplingConfig) SampleType() (models.SampleType, error) {
	st, err := models.ParseSampleType(s.Method, s.Probability)
	if err != nil {
		return nil, apperrors.Configurationf("%v", err)
	}
	return st, nil
}

// RelationConfig overrides settings for one relation.
type RelationConfig struct {
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	Relation string `yaml:"relation"`

	// Sampling replaces the source default. Ignored when Unsampled is set.
	Sampling *SamplingConfig `yaml:"sampling"`
	// Unsampled copies the whole relation, still subject to MaxCount.
	Unsampled bool `yaml:"unsampled"`
	// MaxCount replaces the source default. Zero yields an empty sample.
	MaxCount *int64 `yaml:"max_count"`

	Relationships RelationshipsConfig `yaml:"relationships"`
}

// Key returns the relation identity.
func (r RelationConfig) Key() models.RelationKey {
	return models.RelationKey{Database: r.Database, Schema: r.Schema, Name: r.Relation}
}

// RelationshipsConfig groups the outgoing edges of a relation.
type RelationshipsConfig struct {
	DependsOn     []RelationshipConfig `yaml:"depends_on"`
	Bidirectional []RelationshipConfig `yaml:"bidirectional"`
}

// RelationshipConfig points at a remote relation. Database and schema
// default to the local relation's.
type RelationshipConfig struct {
	Database        string `yaml:"database"`
	Schema          string `yaml:"schema"`
	Relation        string `yaml:"relation"`
	LocalAttribute  string `yaml:"local_attribute"`
	RemoteAttribute string `yaml:"remote_attribute"`
}

// RemoteKey resolves the remote relation relative to local.
func (r RelationshipConfig) RemoteKey(local models.RelationKey) models.RelationKey {
	key := models.RelationKey{Database: r.Database, Schema: r.Schema, Name: r.Relation}
	if key.Database == "" {
		key.Database = local.Database
	}
	if key.Schema == "" {
		key.Schema = local.Schema
	}
	return key
}

// TargetConfig selects the replica engine. Image, Port and Hostname
// override the target adapter's defaults. Profile names an optional
// targets entry in the credentials file.
type TargetConfig struct {
	Adapter  string `yaml:"adapter" env:"REPLICA_TARGET_ADAPTER" env-default:"postgres"`
	Profile  string `yaml:"profile" env:"REPLICA_TARGET_PROFILE"`
	Image    string `yaml:"image" env:"REPLICA_TARGET_IMAGE"`
	Port     int    `yaml:"port" env:"REPLICA_TARGET_PORT"`
	Hostname string `yaml:"hostname" env:"REPLICA_TARGET_HOSTNAME"`
}

// Load reads a replica file with environment variable overrides and
// validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if cfg.CredPath != "" && !filepath.IsAbs(cfg.CredPath) {
		cfg.CredPath = filepath.Join(filepath.Dir(path), cfg.CredPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the shape of the file. Relation and attribute names are
// checked later against the introspected catalog.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperrors.Configurationf("name is required")
	}
	if c.Threads < 1 {
		return apperrors.Configurationf("threads must be at least 1, got %d", c.Threads)
	}
	if len(c.Source.Databases) == 0 {
		return apperrors.Configurationf("source.databases must list at least one database")
	}
	if c.Source.MaxCount < 0 {
		return apperrors.Configurationf("source.max_count must not be negative")
	}
	if _, err := c.Source.Sampling.SampleType(); err != nil {
		return fmt.Errorf("source.sampling: %w", err)
	}
	if c.Target.Port < 0 || c.Target.Port > 65535 {
		return apperrors.Configurationf("target.port %d out of range", c.Target.Port)
	}

	seen := make(map[models.RelationKey]struct{})
	for i, rel := range c.Source.Relations {
		where := fmt.Sprintf("source.specified_relations[%d]", i)
		if rel.Database == "" || rel.Schema == "" || rel.Relation == "" {
			return apperrors.Configurationf("%s: database, schema and relation are required", where)
		}
		key := models.RelationKey{
			Database: strings.ToUpper(rel.Database),
			Schema:   strings.ToUpper(rel.Schema),
			Name:     strings.ToUpper(rel.Relation),
		}
		if _, dup := seen[key]; dup {
			return apperrors.Configurationf("%s: %s is specified more than once", where, rel.Key())
		}
		seen[key] = struct{}{}

		if rel.Sampling != nil {
			if _, err := rel.Sampling.SampleType(); err != nil {
				return fmt.Errorf("%s.sampling: %w", where, err)
			}
		}
		if rel.MaxCount != nil && *rel.MaxCount < 0 {
			return apperrors.Configurationf("%s: max_count must not be negative", where)
		}
		if err := validateEdges(where+".relationships.depends_on", rel.Relationships.DependsOn); err != nil {
			return err
		}
		if err := validateEdges(where+".relationships.bidirectional", rel.Relationships.Bidirectional); err != nil {
			return err
		}
	}
	return nil
}

func validateEdges(where string, edges []RelationshipConfig) error {
	for i, edge := range edges {
		if edge.Relation == "" || edge.LocalAttribute == "" || edge.RemoteAttribute == "" {
			return apperrors.Configurationf("%s[%d]: relation, local_attribute and remote_attribute are required", where, i)
		}
	}
	return nil
}
