package sampling

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Settings is the sampling policy for one relation.
type Settings struct {
	// Sample is the sampling method. Nil copies the relation in full.
	Sample models.SampleType
	// MaxCount is the largest sample the count guard admits. Zero yields
	// an empty sample without querying the source.
	MaxCount int64
}

// RelationOverride replaces the default settings for one relation.
type RelationOverride struct {
	Key      models.RelationKey
	Settings Settings
}

// RelationshipSpec is a configured edge, resolved against the catalog when
// the graph is built.
type RelationshipSpec struct {
	Local           models.RelationKey
	LocalAttribute  string
	Remote          models.RelationKey
	RemoteAttribute string
	Kind            models.RelationshipKind
}

// Options configures a sampling run.
type Options struct {
	Databases     []string
	Defaults      Settings
	Overrides     []RelationOverride
	Relationships []RelationshipSpec
	// Concurrency bounds how many relations are sampled at once.
	Concurrency int
	// Analyze reports sample and population sizes instead of materializing.
	Analyze bool
}

// OptionsFromConfig translates a replica file.
func OptionsFromConfig(cfg *config.Config, analyze bool) (Options, error) {
	defaultSample, err := cfg.Source.Sampling.SampleType()
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Databases:   cfg.Source.Databases,
		Defaults:    Settings{Sample: defaultSample, MaxCount: cfg.Source.MaxCount},
		Concurrency: cfg.Threads,
		Analyze:     analyze,
	}

	for _, rel := range cfg.Source.Relations {
		settings := opts.Defaults
		switch {
		case rel.Unsampled:
			settings.Sample = nil
		case rel.Sampling != nil:
			st, err := rel.Sampling.SampleType()
			if err != nil {
				return Options{}, fmt.Errorf("%s: %w", rel.Key(), err)
			}
			settings.Sample = st
		}
		if rel.MaxCount != nil {
			settings.MaxCount = *rel.MaxCount
		}
		opts.Overrides = append(opts.Overrides, RelationOverride{Key: rel.Key(), Settings: settings})

		local := rel.Key()
		for _, edge := range rel.Relationships.DependsOn {
			opts.Relationships = append(opts.Relationships, relationshipSpec(local, edge, models.RelationshipDependsOn))
		}
		for _, edge := range rel.Relationships.Bidirectional {
			opts.Relationships = append(opts.Relationships, relationshipSpec(local, edge, models.RelationshipBidirectional))
		}
	}
	return opts, nil
}

func relationshipSpec(local models.RelationKey, edge config.RelationshipConfig, kind models.RelationshipKind) RelationshipSpec {
	return RelationshipSpec{
		Local:           local,
		LocalAttribute:  edge.LocalAttribute,
		Remote:          edge.RemoteKey(local),
		RemoteAttribute: edge.RemoteAttribute,
		Kind:            kind,
	}
}
