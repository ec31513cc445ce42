// Package rislive provides a WebSocket client for the RIPE RIS Live BGP
// stream, turning announcements into routes for the path scanner.
package rislive

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

const (
	// RISLiveURL is the WebSocket endpoint for RIS Live.
	RISLiveURL = "wss://ris-live.ripe.net/v1/ws/?client=bgp-t1-peerings"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Client is a WebSocket client for one RIS Live collector with automatic
// reconnection.
type Client struct {
	url       string
	collector string
	routes    chan<- models.Route
	log       *zap.SugaredLogger
	done      chan struct{}
	wg        sync.WaitGroup

	// Stats
	messagesReceived uint64
	routesParsed     uint64
	routesDropped    uint64
	errors           uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a new RIS Live client for a specific collector. An empty
// url means RISLiveURL.
func NewClient(url, collector string, routes chan<- models.Route, log *zap.SugaredLogger) *Client {
	if url == "" {
		url = RISLiveURL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		url:       url,
		collector: collector,
		routes:    routes,
		log:       log.With("collector", collector),
		done:      make(chan struct{}),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		c.log.Warn("Client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	c.log.Info("Client started")
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.log.Info("Client stopped")
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]uint64 {
	connected := uint64(0)
	if c.connected.Load() {
		connected = 1
	}
	return map[string]uint64{
		"connected":         connected,
		"messages_received": atomic.LoadUint64(&c.messagesReceived),
		"routes_parsed":     atomic.LoadUint64(&c.routesParsed),
		"routes_dropped":    atomic.LoadUint64(&c.routesDropped),
		"errors":            atomic.LoadUint64(&c.errors),
		"reconnects":        atomic.LoadUint64(&c.reconnects),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := initialReconnectDelay

	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			atomic.AddUint64(&c.errors, 1)
			atomic.AddUint64(&c.reconnects, 1)
			c.log.Warnf("Connection error: %v, reconnecting in %v", err, reconnectDelay)
		}

		// Check if we should stop
		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (c *Client) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	c.log.Info("Connecting to RIS Live...")
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial failed")
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"type": "ris_subscribe",
		"data": map[string]interface{}{
			"type": "UPDATE",
			"host": c.collector,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return errors.Wrap(err, "subscribe failed")
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("Connected and subscribed")

	conn.SetPongHandler(func(string) error {
		return nil
	})

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !c.running.Load() {
				return nil
			}
			return errors.Wrap(err, "read failed")
		}

		if messageType != websocket.TextMessage {
			continue
		}

		received := atomic.AddUint64(&c.messagesReceived, 1)
		if received <= 3 {
			msgLen := len(message)
			if msgLen > 200 {
				msgLen = 200
			}
			c.log.Debugf("Raw message: %s", message[:msgLen])
		}

		routes, err := ParseMessage(message, c.collector)
		if err != nil {
			// Not all messages are updates, this is fine
			if received <= 10 {
				c.log.Debugf("Parse error: %v", err)
			}
			continue
		}
		for _, route := range routes {
			atomic.AddUint64(&c.routesParsed, 1)
			// Non-blocking send to channel
			select {
			case c.routes <- route:
			default:
				if dropped := atomic.AddUint64(&c.routesDropped, 1); dropped%10000 == 1 {
					c.log.Warnf("Route channel full, dropped %d routes", dropped)
				}
			}
		}
	}

	return nil
}

// MultiClient manages RIS Live clients for several collectors feeding one
// route channel.
type MultiClient struct {
	clients []*Client
	routes  chan models.Route
	running atomic.Bool
	log     *zap.SugaredLogger
}

// NewMultiClient creates a client that connects to multiple collectors.
func NewMultiClient(url string, collectors []string, bufferSize int, log *zap.SugaredLogger) *MultiClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	routes := make(chan models.Route, bufferSize)
	clients := make([]*Client, len(collectors))

	for i, collector := range collectors {
		clients[i] = NewClient(url, collector, routes, log)
	}

	return &MultiClient{
		clients: clients,
		routes:  routes,
		log:     log,
	}
}

// Routes returns the channel of announced routes. It is closed by Stop.
func (mc *MultiClient) Routes() <-chan models.Route {
	return mc.routes
}

// Start begins all collector clients.
func (mc *MultiClient) Start() {
	if mc.running.Swap(true) {
		return
	}
	for _, client := range mc.clients {
		client.Start()
	}
	mc.log.Infof("MultiClient started with %d collectors", len(mc.clients))
}

// Stop gracefully shuts down all clients and closes the route channel.
func (mc *MultiClient) Stop() {
	if !mc.running.Swap(false) {
		return
	}
	for _, client := range mc.clients {
		client.Stop()
	}
	close(mc.routes)
	mc.log.Info("MultiClient stopped")
}

// Stats returns statistics summed over all clients, plus the channel fill.
func (mc *MultiClient) Stats() map[string]uint64 {
	total := make(map[string]uint64)
	for _, client := range mc.clients {
		for k, v := range client.Stats() {
			total[k] += v
		}
	}
	total["channel_len"] = uint64(len(mc.routes))
	total["channel_cap"] = uint64(cap(mc.routes))
	return total
}
