package detector

import (
	"sync"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// community is a table key, written {owner, value}.
type community models.Community

type communityTable struct {
	relationships map[community]models.Relationship
	regions       map[community]models.Region
}

// communityTables are the exact-match community rules of each Tier-1.
var communityTables = map[models.ASN]communityTable{
	// Cogent
	174: {
		relationships: map[community]models.Relationship{
			{174, 21000}: models.Peer,
			{174, 21001}: models.Customer,
			{174, 21100}: models.Peer,
			{174, 21101}: models.Customer,
			{174, 21200}: models.Peer,
			{174, 21201}: models.Customer,
			{174, 21300}: models.Peer,
			{174, 21301}: models.Customer,
			{174, 21400}: models.Peer,
			{174, 21401}: models.Customer,
			{174, 21500}: models.Peer,
			{174, 21501}: models.Customer,
		},
		regions: map[community]models.Region{
			{174, 21000}: models.NorthAmerica,
			{174, 21001}: models.NorthAmerica,
			{174, 21100}: models.Europe,
			{174, 21101}: models.Europe,
			{174, 21200}: models.AsiaPac,
			{174, 21201}: models.AsiaPac,
			{174, 21300}: models.SouthAmerica,
			{174, 21301}: models.SouthAmerica,
			{174, 21400}: models.AsiaPac,
			{174, 21401}: models.AsiaPac,
			{174, 21500}: models.Africa,
			{174, 21501}: models.Africa,
		},
	},
	// Verizon tags with a zero owner field, which never passes the owner check.
	701: {
		relationships: map[community]models.Relationship{
			{0, 201}: models.Customer,
			{0, 203}: models.Peer,
		},
	},
	// Vodafone is range based, see relationshipRanges and regionRanges.
	1273: {},
	// Arelion
	1299: {
		relationships: map[community]models.Relationship{
			{1299, 20000}: models.Peer,
			{1299, 25000}: models.Peer,
			{1299, 27000}: models.Peer,
			{1299, 30000}: models.Customer,
			{1299, 35000}: models.Customer,
			{1299, 37000}: models.Customer,
		},
		regions: map[community]models.Region{
			{1299, 20000}: models.Europe,
			{1299, 25000}: models.NorthAmerica,
			{1299, 27000}: models.AsiaPac,
			{1299, 30000}: models.Europe,
			{1299, 35000}: models.NorthAmerica,
			{1299, 37000}: models.AsiaPac,
		},
	},
	// NTT
	2914: {
		relationships: map[community]models.Relationship{
			{2914, 410}: models.Customer,
			{2914, 420}: models.Peer,
		},
		regions: map[community]models.Region{
			{2914, 3000}: models.NorthAmerica,
			{2914, 3075}: models.NorthAmerica,
			{2914, 3200}: models.Europe,
			{2914, 3275}: models.Europe,
			{2914, 3400}: models.AsiaPac,
			{2914, 3475}: models.AsiaPac,
			{2914, 3600}: models.SouthAmerica,
			{2914, 3675}: models.SouthAmerica,
		},
	},
	// GTT
	3257: {
		relationships: map[community]models.Relationship{
			{3257, 4000}: models.Customer,
		},
		regions: map[community]models.Region{
			{3257, 50001}: models.Europe,
			{3257, 50002}: models.NorthAmerica,
			{3257, 50003}: models.AsiaPac,
		},
	},
	// DTAG
	3320: {
		relationships: map[community]models.Relationship{
			{3320, 9010}: models.Customer,
			{3320, 9020}: models.Peer,
		},
		regions: map[community]models.Region{
			{3320, 2010}: models.Europe,
			{3320, 2020}: models.NorthAmerica,
			{3320, 2030}: models.AsiaPac,
		},
	},
	// Lumen
	3356: {
		relationships: map[community]models.Relationship{
			{3356, 123}: models.Customer,
			{3356, 666}: models.Peer,
		},
		regions: map[community]models.Region{
			{3356, 2}: models.Europe,
			{3356, 3}: models.NorthAmerica,
			{3356, 4}: models.AsiaPac,
			{3356, 5}: models.SouthAmerica,
		},
	},
	// PCCW
	3491: {
		relationships: map[community]models.Relationship{
			{3491, 100}:  models.Customer,
			{3491, 200}:  models.Customer,
			{3491, 300}:  models.Customer,
			{3491, 400}:  models.Customer,
			{3491, 500}:  models.Customer,
			{3491, 700}:  models.Customer,
			{3491, 1000}: models.Peer,
			{3491, 2000}: models.Peer,
			{3491, 3000}: models.Peer,
			{3491, 4000}: models.Peer,
			{3491, 5000}: models.Peer,
			{3491, 7000}: models.Peer,
			{3491, 9001}: models.Customer,
			{3491, 9002}: models.Peer,
		},
		regions: map[community]models.Region{
			{3491, 100}:  models.NorthAmerica,
			{3491, 200}:  models.NorthAmerica,
			{3491, 300}:  models.Europe,
			{3491, 400}:  models.AsiaPac,
			{3491, 500}:  models.Africa,
			{3491, 700}:  models.AsiaPac,
			{3491, 1000}: models.NorthAmerica,
			{3491, 2000}: models.NorthAmerica,
			{3491, 3000}: models.Europe,
			{3491, 4000}: models.AsiaPac,
			{3491, 5000}: models.Africa,
			{3491, 7000}: models.AsiaPac,
		},
	},
	// Orange
	5511: {
		relationships: map[community]models.Relationship{
			{5511, 666}: models.Peer,
			{5511, 999}: models.Customer,
		},
		regions: map[community]models.Region{
			{5511, 30100}: models.NorthAmerica,
			{5511, 560}:   models.NorthAmerica,
			{5511, 700}:   models.NorthAmerica,
			{5511, 30106}: models.Africa,
			{5511, 640}:   models.Africa,
			{5511, 730}:   models.Africa,
			{5511, 30121}: models.AsiaPac,
			{5511, 600}:   models.AsiaPac,
			{5511, 720}:   models.AsiaPac,
			{5511, 30139}: models.Europe,
			{5511, 500}:   models.Europe,
			{5511, 710}:   models.Europe,
			{5511, 30173}: models.Africa,
			{5511, 30184}: models.Africa,
			{5511, 30194}: models.NorthAmerica,
			{5511, 540}:   models.NorthAmerica,
			{5511, 30218}: models.NorthAmerica,
			{5511, 30228}: models.Europe,
			{5511, 30237}: models.AsiaPac,
			{5511, 680}:   models.AsiaPac,
			{5511, 30241}: models.AsiaPac,
			{5511, 30251}: models.Africa,
			{5511, 30541}: models.SouthAmerica,
			{5511, 590}:   models.SouthAmerica,
			{5511, 30257}: models.Europe,
			{5511, 30343}: models.Africa,
			{5511, 30416}: models.AsiaPac,
			{5511, 650}:   models.AsiaPac,
			{5511, 30428}: models.Europe,
		},
	},
	// TATA
	6453: {
		relationships: map[community]models.Relationship{
			{6453, 50}: models.Customer,
			{6453, 86}: models.Peer,
		},
		regions: map[community]models.Region{
			{6453, 1000}: models.NorthAmerica,
			{6453, 2000}: models.Europe,
			{6453, 3000}: models.AsiaPac,
			{6453, 4000}: models.Africa,
			{6453, 6000}: models.AsiaPac,
		},
	},
	// Zayo
	6461: {
		relationships: map[community]models.Relationship{
			{6461, 2101}: models.Customer,
			{6461, 2601}: models.Peer,
			{6461, 5994}: models.Peer,
			{6461, 5995}: models.Peer,
			{6461, 5996}: models.Peer,
			{6461, 5997}: models.Peer,
			{6461, 5998}: models.Customer,
		},
		regions: map[community]models.Region{
			{6461, 2101}: models.NorthAmerica,
			{6461, 2601}: models.NorthAmerica,
			{6461, 5994}: models.AsiaPac,
			{6461, 5996}: models.Europe,
		},
	},
	// TI Sparkle
	6762: {
		relationships: map[community]models.Relationship{
			{6762, 40}: models.Customer,
		},
		regions: map[community]models.Region{
			{6762, 30}: models.Europe,
			{6762, 31}: models.NorthAmerica,
			{6762, 32}: models.SouthAmerica,
			{6762, 33}: models.AsiaPac,
			{6762, 34}: models.Africa,
		},
	},
	// Liberty Global
	6830: {
		relationships: map[community]models.Relationship{
			{6830, 13000}: models.Customer,
			{6830, 16000}: models.Peer,
			{6830, 17000}: models.Peer,
		},
	},
	// Hurricane Electric
	6939: {
		relationships: map[community]models.Relationship{
			{6939, 1000}:  models.Customer,
			{6939, 16000}: models.Peer,
			{6939, 17000}: models.Peer,
		},
		regions: map[community]models.Region{
			{6939, 9001}: models.NorthAmerica,
			{6939, 9002}: models.Europe,
			{6939, 9003}: models.AsiaPac,
			{6939, 9004}: models.Africa,
			{6939, 9005}: models.SouthAmerica,
			{6939, 9006}: models.AsiaPac,
			{6939, 9007}: models.MiddleEast,
		},
	},
	// AT&T
	7018: {
		relationships: map[community]models.Relationship{
			{7018, 2000}: models.Customer,
			{7018, 5000}: models.Peer,
		},
	},
	// Telxius
	12956: {
		relationships: map[community]models.Relationship{
			{12956, 123}: models.Customer,
			{12956, 321}: models.Peer,
			{12956, 322}: models.PaidPeer,
		},
		regions: map[community]models.Region{
			{12956, 4001}: models.Europe,
			{12956, 4002}: models.SouthAmerica,
			{12956, 4003}: models.NorthAmerica,
			{12956, 4004}: models.AsiaPac,
			{12956, 4005}: models.Africa,
		},
	},
}

type relationshipRange struct {
	asn    models.ASN
	lo, hi uint16
	rel    models.Relationship
}

type regionRange struct {
	asn    models.ASN
	lo, hi uint16
	region models.Region
}

// Bulk rules, owner is always the operator itself.
var relationshipRanges = []relationshipRange{
	// Vodafone regional customer, peer and upstream blocks
	{1273, 11000, 18999, models.Customer},
	{1273, 21000, 28999, models.Peer},
	{1273, 31000, 38999, models.Upstream},
	// Vodafone upstream Arelion
	{1273, 39970, 39979, models.Upstream},
	// GTT regional peers
	{3257, 30000, 39999, models.Peer},
}

var regionRanges = []regionRange{
	// Vodafone, one block per region and relationship
	{1273, 11000, 11999, models.NorthAmerica},
	{1273, 21000, 21999, models.NorthAmerica},
	{1273, 31000, 31999, models.NorthAmerica},
	{1273, 12000, 12999, models.Europe},
	{1273, 22000, 22999, models.Europe},
	{1273, 32000, 32999, models.Europe},
	{1273, 13000, 13999, models.AsiaPac},
	{1273, 23000, 23999, models.AsiaPac},
	{1273, 33000, 33999, models.AsiaPac},
	// Australia
	{1273, 14000, 14999, models.AsiaPac},
	{1273, 24000, 24999, models.AsiaPac},
	{1273, 34000, 34999, models.AsiaPac},
	{1273, 15000, 15999, models.SouthAmerica},
	{1273, 25000, 25999, models.SouthAmerica},
	{1273, 35000, 35999, models.SouthAmerica},
	{1273, 16000, 16999, models.Africa},
	{1273, 26000, 26999, models.Africa},
	{1273, 36000, 36999, models.Africa},
	// Middle East is grouped with Europe
	{1273, 17000, 17999, models.Europe},
	{1273, 27000, 27999, models.Europe},
	{1273, 37000, 37999, models.Europe},
	// India
	{1273, 18000, 18999, models.AsiaPac},
	{1273, 28000, 28999, models.AsiaPac},
	{1273, 38000, 38999, models.AsiaPac},
}

// DefaultRules returns the built-in classification rules. The tables are
// expanded on first use and shared afterwards.
var DefaultRules = sync.OnceValue(func() *Rules {
	b := NewRulesBuilder()
	for asn, table := range communityTables {
		b.operator(asn)
		for c, rel := range table.relationships {
			b.Relationship(asn, models.Community(c), rel)
		}
		for c, region := range table.regions {
			b.Region(asn, models.Community(c), region)
		}
	}
	for _, r := range relationshipRanges {
		b.RelationshipRange(r.asn, r.asn, r.lo, r.hi, r.rel)
	}
	for _, r := range regionRanges {
		b.RegionRange(r.asn, r.asn, r.lo, r.hi, r.region)
	}
	return b.Build()
})
