package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

// Materialization is how a relation is stored on the source.
type Materialization string

const (
	MaterializationTable Materialization = "TABLE"
	MaterializationView  Materialization = "VIEW"
)

// RelationshipKind distinguishes enforced from advisory edges.
type RelationshipKind string

const (
	// RelationshipDependsOn is a hard edge: every sampled local value must exist
	// among the remote relation's sampled values.
	RelationshipDependsOn RelationshipKind = "depends_on"
	// RelationshipBidirectional is advisory; it only influences sampling order.
	RelationshipBidirectional RelationshipKind = "bidirectional"
)

// RelationKey identifies a relation within one catalog.
type RelationKey struct {
	Database string `json:"database" yaml:"database"`
	Schema   string `json:"schema" yaml:"schema"`
	Name     string `json:"name" yaml:"relation"`
}

func (k RelationKey) String() string {
	return k.Database + "." + k.Schema + "." + k.Name
}

// normalized folds case so lookups behave the same for engines that store
// unquoted identifiers upper-cased and those that lower-case them.
func (k RelationKey) normalized() RelationKey {
	return RelationKey{
		Database: strings.ToUpper(k.Database),
		Schema:   strings.ToUpper(k.Schema),
		Name:     strings.ToUpper(k.Name),
	}
}

// Relationship is a directed edge from the relation holding LocalAttribute to
// the relation holding RemoteAttribute.
type Relationship struct {
	Local           *Relation
	Remote          *Relation
	LocalAttribute  string
	RemoteAttribute string
	Kind            RelationshipKind
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -[%s]-> %s.%s",
		r.Local.DotNotation(), r.LocalAttribute, r.Kind, r.Remote.DotNotation(), r.RemoteAttribute)
}

// IsSelfReference reports whether the edge points back at its own relation.
func (r Relationship) IsSelfReference() bool {
	return r.Local == r.Remote
}

// Relation is a table or view in a source catalog.
//
// The core query and sample are each written exactly once by the sampling
// orchestrator; readers must only access them after the relation's sampling
// has completed.
type Relation struct {
	Database        string
	Schema          string
	Name            string
	Materialization Materialization

	attributes    []Attribute
	relationships []Relationship

	coreQuery string
	sample    *RowSet
}

// NewRelation builds a relation. Attribute names must be unique.
func NewRelation(database, schema, name string, materialization Materialization, attributes []Attribute) (*Relation, error) {
	seen := make(map[string]struct{}, len(attributes))
	for _, a := range attributes {
		if _, dup := seen[a.Name()]; dup {
			return nil, fmt.Errorf("relation %s.%s.%s: duplicate attribute %q", database, schema, name, a.Name())
		}
		seen[a.Name()] = struct{}{}
	}
	attrs := make([]Attribute, len(attributes))
	copy(attrs, attributes)
	return &Relation{
		Database:        database,
		Schema:          schema,
		Name:            name,
		Materialization: materialization,
		attributes:      attrs,
	}, nil
}

// Key returns the (database, schema, name) identity.
func (r *Relation) Key() RelationKey {
	return RelationKey{Database: r.Database, Schema: r.Schema, Name: r.Name}
}

// DotNotation returns database.schema.name unquoted, for logs and reports.
func (r *Relation) DotNotation() string {
	return r.Key().String()
}

// Attributes returns the attributes in catalog ordinal order.
func (r *Relation) Attributes() []Attribute {
	out := make([]Attribute, len(r.attributes))
	copy(out, r.attributes)
	return out
}

// LookupAttribute finds an attribute by name, falling back to a case-insensitive match.
func (r *Relation) LookupAttribute(name string) (Attribute, bool) {
	for _, a := range r.attributes {
		if a.Name() == name {
			return a, true
		}
	}
	for _, a := range r.attributes {
		if strings.EqualFold(a.Name(), name) {
			return a, true
		}
	}
	return Attribute{}, false
}

// Relationships returns the outgoing edges.
func (r *Relation) Relationships() []Relationship {
	out := make([]Relationship, len(r.relationships))
	copy(out, r.relationships)
	return out
}

// DependsOn returns the outgoing hard edges.
func (r *Relation) DependsOn() []Relationship {
	var out []Relationship
	for _, rel := range r.relationships {
		if rel.Kind == RelationshipDependsOn {
			out = append(out, rel)
		}
	}
	return out
}

// AddRelationship attaches an outgoing edge after checking that both
// attributes exist.
func (r *Relation) AddRelationship(remote *Relation, localAttribute, remoteAttribute string, kind RelationshipKind) error {
	if remote == nil {
		return apperrors.Configurationf("relationship from %s: remote relation is nil", r.DotNotation())
	}
	if kind != RelationshipDependsOn && kind != RelationshipBidirectional {
		return apperrors.Configurationf("relationship from %s: unknown kind %q", r.DotNotation(), kind)
	}
	local, ok := r.LookupAttribute(localAttribute)
	if !ok {
		return apperrors.Configurationf("relationship from %s: attribute %q does not exist", r.DotNotation(), localAttribute)
	}
	rem, ok := remote.LookupAttribute(remoteAttribute)
	if !ok {
		return apperrors.Configurationf("relationship to %s: attribute %q does not exist", remote.DotNotation(), remoteAttribute)
	}
	r.relationships = append(r.relationships, Relationship{
		Local:           r,
		Remote:          remote,
		LocalAttribute:  local.Name(),
		RemoteAttribute: rem.Name(),
		Kind:            kind,
	})
	return nil
}

// CoreQuery returns the statement the relation is sampled with, or "" if not yet planned.
func (r *Relation) CoreQuery() string {
	return r.coreQuery
}

// SetCoreQuery records the sampling statement. It may be set only once.
func (r *Relation) SetCoreQuery(sql string) error {
	if r.coreQuery != "" {
		return fmt.Errorf("core query for %s already set", r.DotNotation())
	}
	if sql == "" {
		return errors.New("core query must not be empty")
	}
	r.coreQuery = sql
	return nil
}

// Sample returns the materialized sample, or nil before sampling.
func (r *Relation) Sample() *RowSet {
	return r.sample
}

// SetSample records the materialized sample. It may be set only once.
func (r *Relation) SetSample(rows *RowSet) error {
	if r.sample != nil {
		return fmt.Errorf("sample for %s already set", r.DotNotation())
	}
	if rows == nil {
		return errors.New("sample must not be nil")
	}
	r.sample = rows
	return nil
}

// Catalog is an ordered set of relations keyed by (database, schema, name).
// Order is insertion order and is used as the deterministic tie-break when planning.
type Catalog struct {
	relations []*Relation
	byKey     map[RelationKey]*Relation
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byKey: make(map[RelationKey]*Relation)}
}

// Add inserts relations, rejecting duplicates.
func (c *Catalog) Add(relations ...*Relation) error {
	for _, rel := range relations {
		key := rel.Key().normalized()
		if _, exists := c.byKey[key]; exists {
			return fmt.Errorf("duplicate relation %s in catalog", rel.DotNotation())
		}
		c.byKey[key] = rel
		c.relations = append(c.relations, rel)
	}
	return nil
}

// Lookup finds a relation; matching is case-insensitive.
func (c *Catalog) Lookup(key RelationKey) (*Relation, bool) {
	rel, ok := c.byKey[key.normalized()]
	return rel, ok
}

// Relations returns all relations in insertion order.
func (c *Catalog) Relations() []*Relation {
	out := make([]*Relation, len(c.relations))
	copy(out, c.relations)
	return out
}

// Len returns the number of relations.
func (c *Catalog) Len() int {
	return len(c.relations)
}
