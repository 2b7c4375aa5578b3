package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

func TestOptionsFromConfig(t *testing.T) {
	zero := int64(0)
	cfg := &config.Config{
		Name:    "replica",
		Threads: 3,
		Source: config.SourceConfig{
			Databases: []string{"SALES"},
			Sampling:  config.SamplingConfig{Method: "bernoulli", Probability: 10},
			MaxCount:  5000,
			Relations: []config.RelationConfig{
				{
					Database: "SALES", Schema: "PUBLIC", Relation: "ORDERS",
					Sampling: &config.SamplingConfig{Method: "system", Probability: 25},
					Relationships: config.RelationshipsConfig{
						DependsOn: []config.RelationshipConfig{
							{Relation: "CUSTOMERS", LocalAttribute: "CUSTOMER_ID", RemoteAttribute: "ID"},
						},
						Bidirectional: []config.RelationshipConfig{
							{Database: "CRM", Schema: "CORE", Relation: "ACCOUNTS", LocalAttribute: "ACCOUNT_ID", RemoteAttribute: "ID"},
						},
					},
				},
				{Database: "SALES", Schema: "PUBLIC", Relation: "REGIONS", Unsampled: true},
				{Database: "SALES", Schema: "PUBLIC", Relation: "AUDIT", MaxCount: &zero},
			},
		},
	}

	opts, err := OptionsFromConfig(cfg, true)
	require.NoError(t, err)

	assert.True(t, opts.Analyze)
	assert.Equal(t, 3, opts.Concurrency)
	assert.Equal(t, []string{"SALES"}, opts.Databases)
	assert.Equal(t, int64(5000), opts.Defaults.MaxCount)
	require.NotNil(t, opts.Defaults.Sample)
	assert.Equal(t, models.SampleKindBernoulli, opts.Defaults.Sample.Kind())

	require.Len(t, opts.Overrides, 3)
	orders := opts.Overrides[0].Settings
	assert.Equal(t, models.SampleKindSystem, orders.Sample.Kind())
	assert.Equal(t, 25.0, orders.Sample.Probability())
	assert.Equal(t, int64(5000), orders.MaxCount)
	assert.Nil(t, opts.Overrides[1].Settings.Sample)
	assert.Equal(t, int64(0), opts.Overrides[2].Settings.MaxCount)
	assert.Equal(t, models.SampleKindBernoulli, opts.Overrides[2].Settings.Sample.Kind())

	require.Len(t, opts.Relationships, 2)
	assert.Equal(t, RelationshipSpec{
		Local:           models.RelationKey{Database: "SALES", Schema: "PUBLIC", Name: "ORDERS"},
		LocalAttribute:  "CUSTOMER_ID",
		Remote:          models.RelationKey{Database: "SALES", Schema: "PUBLIC", Name: "CUSTOMERS"},
		RemoteAttribute: "ID",
		Kind:            models.RelationshipDependsOn,
	}, opts.Relationships[0])
	assert.Equal(t, models.RelationKey{Database: "CRM", Schema: "CORE", Name: "ACCOUNTS"}, opts.Relationships[1].Remote)
	assert.Equal(t, models.RelationshipBidirectional, opts.Relationships[1].Kind)
}

func TestOptionsFromConfig_BadSampling(t *testing.T) {
	cfg := &config.Config{
		Source: config.SourceConfig{
			Sampling: config.SamplingConfig{Method: "reservoir", Probability: 10},
		},
	}
	_, err := OptionsFromConfig(cfg, false)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
