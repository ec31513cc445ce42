package detector

import "github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"

// Classifier resolves the relationship and region of a peering from the
// communities on a route, using the local operator's rules.
type Classifier struct {
	rules *Rules
}

// NewClassifier creates a classifier over a finished rule set.
func NewClassifier(rules *Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Relationship returns the first relationship signalled by a community owned
// by operator, scanning communities in route order.
func (c *Classifier) Relationship(operator models.ASN, communities []models.Community) (models.Relationship, bool) {
	rules := c.rules.Operator(operator)
	if rules == nil {
		return 0, false
	}
	for _, comm := range communities {
		if comm.ASN != operator {
			continue
		}
		if rel, ok := rules.Relationship(comm); ok {
			return rel, true
		}
	}
	return 0, false
}

// Region returns the first region signalled by a community owned by
// operator, scanning communities in route order.
func (c *Classifier) Region(operator models.ASN, communities []models.Community) (models.Region, bool) {
	rules := c.rules.Operator(operator)
	if rules == nil {
		return 0, false
	}
	for _, comm := range communities {
		if comm.ASN != operator {
			continue
		}
		if region, ok := rules.Region(comm); ok {
			return region, true
		}
	}
	return 0, false
}
