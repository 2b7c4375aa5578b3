package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

func planRelation(t *testing.T, name string, attrs ...string) *models.Relation {
	t.Helper()
	list := make([]models.Attribute, len(attrs))
	for i, a := range attrs {
		list[i] = models.NewAttribute(a, i+1, models.DataTypeInteger)
	}
	rel, err := models.NewRelation("shop", "main", name, models.MaterializationTable, list)
	require.NoError(t, err)
	return rel
}

func planNames(plan *Plan) []string {
	names := make([]string, len(plan.Order))
	for i, p := range plan.Order {
		names[i] = p.Relation.Name
	}
	return names
}

func defaultSettings(*models.Relation) Settings {
	return Settings{MaxCount: 100}
}

func TestBuildPlan_ParentsBeforeChildren(t *testing.T) {
	items := planRelation(t, "items", "id", "order_id")
	orders := planRelation(t, "orders", "id", "customer_id")
	customers := planRelation(t, "customers", "id")
	require.NoError(t, items.AddRelationship(orders, "order_id", "id", models.RelationshipDependsOn))
	require.NoError(t, orders.AddRelationship(customers, "customer_id", "id", models.RelationshipDependsOn))

	plan := BuildPlan([]*models.Relation{items, orders, customers}, defaultSettings)

	assert.Equal(t, []string{"customers", "orders", "items"}, planNames(plan))
	for _, p := range plan.Order {
		assert.Empty(t, p.Caveats)
	}
	planned, ok := plan.Lookup(items)
	require.True(t, ok)
	assert.Equal(t, []*models.Relation{orders}, planned.ParentRelations())
	assert.Equal(t, int64(100), planned.Settings.MaxCount)
}

func TestBuildPlan_CycleForcesFirstDeclared(t *testing.T) {
	a := planRelation(t, "a", "id", "b_id")
	b := planRelation(t, "b", "id", "a_id")
	require.NoError(t, a.AddRelationship(b, "b_id", "id", models.RelationshipDependsOn))
	require.NoError(t, b.AddRelationship(a, "a_id", "id", models.RelationshipDependsOn))

	plan := BuildPlan([]*models.Relation{a, b}, defaultSettings)

	require.Equal(t, []string{"a", "b"}, planNames(plan))
	first, second := plan.Order[0], plan.Order[1]
	assert.Empty(t, first.Parents)
	require.Len(t, first.Caveats, 1)
	assert.Contains(t, first.Caveats[0], "shop.main.b.id")
	assert.Equal(t, []*models.Relation{a}, second.ParentRelations())
	assert.Empty(t, second.Caveats)
}

func TestBuildPlan_CycleDownstreamStillOrdered(t *testing.T) {
	a := planRelation(t, "a", "id", "b_id")
	b := planRelation(t, "b", "id", "a_id")
	c := planRelation(t, "c", "id", "b_id")
	require.NoError(t, c.AddRelationship(b, "b_id", "id", models.RelationshipDependsOn))
	require.NoError(t, a.AddRelationship(b, "b_id", "id", models.RelationshipDependsOn))
	require.NoError(t, b.AddRelationship(a, "a_id", "id", models.RelationshipDependsOn))

	plan := BuildPlan([]*models.Relation{c, a, b}, defaultSettings)

	assert.Equal(t, []string{"a", "b", "c"}, planNames(plan))
}

func TestBuildPlan_SelfReference(t *testing.T) {
	employees := planRelation(t, "employees", "id", "manager_id")
	require.NoError(t, employees.AddRelationship(employees, "manager_id", "id", models.RelationshipDependsOn))

	plan := BuildPlan([]*models.Relation{employees}, defaultSettings)

	require.Len(t, plan.Order, 1)
	assert.Empty(t, plan.Order[0].Parents)
	require.Len(t, plan.Order[0].Caveats, 1)
	assert.Contains(t, plan.Order[0].Caveats[0], "self reference")
}

func TestBuildPlan_BidirectionalPullsPeerForward(t *testing.T) {
	x := planRelation(t, "x", "id")
	y := planRelation(t, "y", "id")
	z := planRelation(t, "z", "id", "x_id")
	require.NoError(t, z.AddRelationship(x, "x_id", "id", models.RelationshipBidirectional))

	plan := BuildPlan([]*models.Relation{x, y, z}, defaultSettings)

	assert.Equal(t, []string{"x", "z", "y"}, planNames(plan))
	for _, p := range plan.Order {
		assert.Empty(t, p.Parents, "bidirectional edges are never enforced")
	}
}

func TestBuildPlan_Empty(t *testing.T) {
	plan := BuildPlan(nil, defaultSettings)
	assert.Empty(t, plan.Order)
}
