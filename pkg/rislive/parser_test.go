package rislive

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

func TestParseMessage_Announcement(t *testing.T) {
	// Real RIS Live message format
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.123,
			"peer": "2001:7f8:4::1b1b:1",
			"peer_asn": 6939,
			"host": "rrc00.ripe.net",
			"type": "UPDATE",
			"path": [6939, 3356, 13335],
			"announcements": [
				{"next_hop": "2001:7f8:4::1b1b:1,fe80::1", "prefixes": ["2606:4700::/32", "2606:4700:10::/44"]},
				{"next_hop": "80.249.208.1", "prefixes": ["1.1.1.0/24"]}
			],
			"community": [[65535, 666], [3356, 9999]]
		}
	}`)

	routes, err := ParseMessage(msg, "rrc00")
	require.NoError(t, err)
	require.Len(t, routes, 3)

	first := routes[0]
	assert.Equal(t, netip.MustParsePrefix("2606:4700::/32"), first.Prefix)
	assert.Equal(t, netip.MustParseAddr("2001:7f8:4::1b1b:1"), first.NextHop, "global next hop wins")
	assert.Equal(t, models.ASN(6939), first.Peer.ASN)
	assert.Equal(t, netip.MustParseAddr("2001:7f8:4::1b1b:1"), first.Peer.IP)
	assert.Equal(t, []models.ASN{6939, 3356, 13335}, first.ASPath)
	assert.Equal(t, []models.Community{{ASN: 65535, Value: 666}, {ASN: 3356, Value: 9999}}, first.Communities)
	assert.Equal(t, "rrc00", first.Filename)
	assert.Equal(t, models.IPv6, first.Family())

	assert.Equal(t, netip.MustParseAddr("80.249.208.1"), routes[2].NextHop)
	assert.Equal(t, models.IPv4, routes[2].Family())
}

func TestParseMessage_Withdrawal(t *testing.T) {
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.0,
			"peer_asn": "6939",
			"path": [],
			"withdrawals": ["1.1.1.0/24"]
		}
	}`)

	routes, err := ParseMessage(msg, "rrc00")
	require.NoError(t, err)
	assert.Empty(t, routes, "withdrawals carry no path")
}

func TestParseMessage_NonUpdate(t *testing.T) {
	routes, err := ParseMessage([]byte(`{"type": "ris_error", "data": {"message": "nope"}}`), "rrc00")
	require.NoError(t, err)
	assert.Nil(t, routes)

	_, err = ParseMessage([]byte(`{not json`), "rrc00")
	assert.Error(t, err)
}

func TestParseMessage_BadPrefixAndNextHop(t *testing.T) {
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"peer_asn": 174,
			"path": [174, 701],
			"announcements": [
				{"next_hop": "", "prefixes": ["192.0.2.0/24"]},
				{"next_hop": "198.51.100.1", "prefixes": ["garbage", "203.0.113.0/24"]}
			]
		}
	}`)

	routes, err := ParseMessage(msg, "rrc01")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, netip.MustParsePrefix("203.0.113.0/24"), routes[0].Prefix)
	assert.Nil(t, routes[0].Communities)
}

func TestParseASN(t *testing.T) {
	tests := []struct {
		input    string
		expected models.ASN
	}{
		{`6939`, 6939},
		{`"6939"`, 6939},
		{`4200000000`, 4200000000},
		{`"invalid"`, 0},
		{`null`, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseASN(json.RawMessage(tt.input)), tt.input)
	}
	assert.Equal(t, models.ASN(0), parseASN(nil))
}

func TestParseASPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []models.ASN
	}{
		{"simple", `[174, 3356, 13335]`, []models.ASN{174, 3356, 13335}},
		{"trailing AS_SET", `[174, 3356, [65001, 65002]]`, []models.ASN{174, 3356}},
		{"hops after AS_SET are dropped", `[174, [65001], 3356]`, []models.ASN{174}},
		{"empty", `[]`, []models.ASN{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseASPath(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	_, err := parseASPath(json.RawMessage(`{"a": 1}`))
	assert.Error(t, err)
}

func TestParseCommunities(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`[174, 21001]`),
		json.RawMessage(`"3356:666"`),
		json.RawMessage(`[4200000000, 1]`),
		json.RawMessage(`"3356:99999"`),
		json.RawMessage(`[1, 2, 3]`),
		json.RawMessage(`"nonsense"`),
	}

	assert.Equal(t, []models.Community{{ASN: 174, Value: 21001}, {ASN: 3356, Value: 666}}, parseCommunities(raw))
	assert.Nil(t, parseCommunities(nil))
}

func TestClient_StreamsRoutes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]interface{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "ris_message", "data": {
			"peer": "198.51.100.1", "peer_asn": 174, "path": [174, 701, 65000],
			"announcements": [{"next_hop": "198.51.100.1", "prefixes": ["192.0.2.0/24"]}],
			"community": [[174, 21001]]}}`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	mc := NewMultiClient(url, []string{"rrc00"}, 16, nil)
	mc.Start()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "ris_subscribe", sub["type"])
		assert.Equal(t, "rrc00", sub["data"].(map[string]interface{})["host"])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case route := <-mc.Routes():
		assert.Equal(t, []models.ASN{174, 701, 65000}, route.ASPath)
		assert.Equal(t, "rrc00", route.Filename)
		assert.Equal(t, []models.Community{{ASN: 174, Value: 21001}}, route.Communities)
	case <-time.After(5 * time.Second):
		t.Fatal("no route received")
	}

	assert.Equal(t, uint64(1), mc.Stats()["routes_parsed"])
	mc.Stop()

	_, open := <-mc.Routes()
	assert.False(t, open, "Stop closes the route channel")
}
