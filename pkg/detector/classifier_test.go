package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

func TestIsTier1(t *testing.T) {
	tests := []struct {
		asn      models.ASN
		expected bool
	}{
		{3356, true},   // Lumen
		{6939, true},   // Hurricane Electric
		{174, true},    // Cogent
		{1273, true},   // Vodafone
		{12956, true},  // Telxius
		{13335, false}, // Cloudflare
		{65000, false}, // Private
	}

	r := DefaultRegistry()
	for _, tt := range tests {
		if got := r.IsTier1(tt.asn); got != tt.expected {
			t.Errorf("IsTier1(%d) = %v, want %v", tt.asn, got, tt.expected)
		}
		assert.Equal(t, tt.expected, IsTier1(tt.asn))
	}
	assert.Equal(t, "Cogent", r.Name(174))
}

func TestRegistry_SkipEntries(t *testing.T) {
	r := NewRegistry(Tier1ASNs, []SkipEntry{{ASN: 3356, Filename: "/data/mrts/rrc25.bview.20260114.0000.gz"}})

	assert.Equal(t, 1, r.SkipEntries())
	assert.True(t, r.IsSkipEntry(3356, "rrc25.bview.20260114.0000.gz"))
	assert.True(t, r.IsSkipEntry(3356, "./other/dir/rrc25.bview.20260114.0000.gz"), "basename match")
	assert.False(t, r.IsSkipEntry(3356, "rrc00.bview.20260114.0000.gz"))
	assert.False(t, r.IsSkipEntry(174, "rrc25.bview.20260114.0000.gz"))
}

func TestParseSkipList(t *testing.T) {
	input := `asn,filename
# corrupt paths seen on these
3356,rrc25.bview.20260114.0000.gz
not-a-number,whatever
1299, /mrts/route-views.sg.rib.20260114.0000.bz2
174
`
	entries, err := ParseSkipList(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []SkipEntry{
		{ASN: 3356, Filename: "rrc25.bview.20260114.0000.gz"},
		{ASN: 1299, Filename: "route-views.sg.rib.20260114.0000.bz2"},
	}, entries)
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	assert.Equal(t, len(communityTables), rules.Operators())

	// Vodafone bulk rules are expanded at build time
	rels, regions := rules.Operator(1273).Len()
	assert.Equal(t, 8000*3+10, rels)
	assert.Equal(t, 1000*24, regions)

	assert.Same(t, rules, DefaultRules(), "rules are built once")
}

func TestClassifier_Cogent(t *testing.T) {
	c := NewClassifier(DefaultRules())
	communities := []models.Community{{ASN: 174, Value: 21001}}

	rel, ok := c.Relationship(174, communities)
	require.True(t, ok)
	assert.Equal(t, models.Customer, rel)

	region, ok := c.Region(174, communities)
	require.True(t, ok)
	assert.Equal(t, models.NorthAmerica, region)
}

func TestClassifier_RangeRules(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		name   string
		value  uint16
		rel    models.Relationship
		region models.Region
	}{
		{"customer in North America", 11500, models.Customer, models.NorthAmerica},
		{"peer in Europe", 22000, models.Peer, models.Europe},
		{"upstream in Africa", 36999, models.Upstream, models.Africa},
		{"peer in Middle East is Europe", 27123, models.Peer, models.Europe},
		{"customer in India is AsiaPac", 18000, models.Customer, models.AsiaPac},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			communities := []models.Community{{ASN: 1273, Value: tt.value}}
			rel, ok := c.Relationship(1273, communities)
			require.True(t, ok)
			assert.Equal(t, tt.rel, rel)
			region, ok := c.Region(1273, communities)
			require.True(t, ok)
			assert.Equal(t, tt.region, region)
		})
	}

	// Upstream Arelion block has no region
	_, ok := c.Region(1273, []models.Community{{ASN: 1273, Value: 39975}})
	assert.False(t, ok)
	rel, ok := c.Relationship(1273, []models.Community{{ASN: 1273, Value: 39975}})
	require.True(t, ok)
	assert.Equal(t, models.Upstream, rel)
}

func TestClassifier_OwnerMustMatchOperator(t *testing.T) {
	c := NewClassifier(DefaultRules())

	// 174:21001 is a Cogent rule; it must never classify anyone else.
	communities := []models.Community{{ASN: 174, Value: 21001}}
	for asn := range Tier1ASNs {
		if asn == 174 {
			continue
		}
		_, ok := c.Relationship(asn, communities)
		assert.False(t, ok, "AS%d classified from a Cogent community", asn)
		_, ok = c.Region(asn, communities)
		assert.False(t, ok, "AS%d classified from a Cogent community", asn)
	}

	// Verizon's table uses a zero owner, so it never matches.
	_, ok := c.Relationship(701, []models.Community{{ASN: 0, Value: 201}, {ASN: 701, Value: 201}})
	assert.False(t, ok)
}

func TestClassifier_FirstMatchInRouteOrder(t *testing.T) {
	c := NewClassifier(DefaultRules())
	communities := []models.Community{
		{ASN: 65000, Value: 1},
		{ASN: 3356, Value: 666},
		{ASN: 3356, Value: 123},
		{ASN: 3356, Value: 3},
		{ASN: 3356, Value: 2},
	}

	rel, ok := c.Relationship(3356, communities)
	require.True(t, ok)
	assert.Equal(t, models.Peer, rel)

	region, ok := c.Region(3356, communities)
	require.True(t, ok)
	assert.Equal(t, models.NorthAmerica, region)
}

func TestClassifier_Misses(t *testing.T) {
	c := NewClassifier(DefaultRules())

	_, ok := c.Relationship(174, nil)
	assert.False(t, ok)
	_, ok = c.Region(65000, []models.Community{{ASN: 65000, Value: 1}})
	assert.False(t, ok, "operator without rules")
	_, ok = c.Region(174, []models.Community{{ASN: 174, Value: 9999}})
	assert.False(t, ok)
}

func TestRulesBuilder(t *testing.T) {
	rules := NewRulesBuilder().
		Relationship(64500, models.Community{ASN: 64500, Value: 1}, models.PaidPeer).
		RegionRange(64500, 64500, 65530, 65535, models.MiddleEast).
		Build()

	c := NewClassifier(rules)
	rel, ok := c.Relationship(64500, []models.Community{{ASN: 64500, Value: 1}})
	require.True(t, ok)
	assert.Equal(t, models.PaidPeer, rel)

	region, ok := c.Region(64500, []models.Community{{ASN: 64500, Value: 65535}})
	require.True(t, ok, "range end is inclusive and must not overflow")
	assert.Equal(t, models.MiddleEast, region)
	_, regions := rules.Operator(64500).Len()
	assert.Equal(t, 6, regions)
}
