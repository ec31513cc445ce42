package detector

import "github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"

// OperatorRules maps the communities one operator tags routes with to the
// relationship and region they signal. Ranges are expanded when the table is
// built, so lookups are a single map access.
type OperatorRules struct {
	relationships map[models.Community]models.Relationship
	regions       map[models.Community]models.Region
}

func newOperatorRules() *OperatorRules {
	return &OperatorRules{
		relationships: make(map[models.Community]models.Relationship),
		regions:       make(map[models.Community]models.Region),
	}
}

// Relationship returns the relationship signalled by c.
func (o *OperatorRules) Relationship(c models.Community) (models.Relationship, bool) {
	rel, ok := o.relationships[c]
	return rel, ok
}

// Region returns the region signalled by c.
func (o *OperatorRules) Region(c models.Community) (models.Region, bool) {
	region, ok := o.regions[c]
	return region, ok
}

// Len returns the number of relationship and region entries.
func (o *OperatorRules) Len() (relationships, regions int) {
	return len(o.relationships), len(o.regions)
}

// Rules holds the per-operator classification tables. A Rules value is
// read-only once Build returns.
type Rules struct {
	operators map[models.ASN]*OperatorRules
}

// Operator returns the rules for asn, or nil if the operator has none.
func (r *Rules) Operator(asn models.ASN) *OperatorRules {
	return r.operators[asn]
}

// Operators returns the number of operators with rules.
func (r *Rules) Operators() int {
	return len(r.operators)
}

// RulesBuilder accumulates rules during startup.
type RulesBuilder struct {
	operators map[models.ASN]*OperatorRules
}

// NewRulesBuilder creates an empty builder.
func NewRulesBuilder() *RulesBuilder {
	return &RulesBuilder{operators: make(map[models.ASN]*OperatorRules)}
}

func (b *RulesBuilder) operator(asn models.ASN) *OperatorRules {
	o, ok := b.operators[asn]
	if !ok {
		o = newOperatorRules()
		b.operators[asn] = o
	}
	return o
}

// Relationship maps community c to rel for operator asn.
func (b *RulesBuilder) Relationship(asn models.ASN, c models.Community, rel models.Relationship) *RulesBuilder {
	b.operator(asn).relationships[c] = rel
	return b
}

// Region maps community c to region for operator asn.
func (b *RulesBuilder) Region(asn models.ASN, c models.Community, region models.Region) *RulesBuilder {
	b.operator(asn).regions[c] = region
	return b
}

// RelationshipRange maps owner:lo through owner:hi (inclusive) to rel for
// operator asn.
func (b *RulesBuilder) RelationshipRange(asn models.ASN, owner models.ASN, lo, hi uint16, rel models.Relationship) *RulesBuilder {
	o := b.operator(asn)
	for v := uint32(lo); v <= uint32(hi); v++ {
		o.relationships[models.Community{ASN: owner, Value: uint16(v)}] = rel
	}
	return b
}

// RegionRange maps owner:lo through owner:hi (inclusive) to region for
// operator asn.
func (b *RulesBuilder) RegionRange(asn models.ASN, owner models.ASN, lo, hi uint16, region models.Region) *RulesBuilder {
	o := b.operator(asn)
	for v := uint32(lo); v <= uint32(hi); v++ {
		o.regions[models.Community{ASN: owner, Value: uint16(v)}] = region
	}
	return b
}

// Build returns the finished rules. The builder must not be used afterwards.
func (b *RulesBuilder) Build() *Rules {
	r := &Rules{operators: b.operators}
	b.operators = nil
	return r
}
