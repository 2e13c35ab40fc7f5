// Package server coordinates connection registration, presence tracking, and
// event routing for the realtime relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// inboundEvent pairs a raw envelope with the connection it arrived on.
type inboundEvent struct {
	client *Client
	raw    []byte
}

// Hub owns every live connection and serializes all registry mutations and
// routing decisions through its Run loop, which is the single coordination
// domain required for register/unregister/dispatch. Deliveries are
// fire-and-forget writes into each client's buffered send channel so one slow
// recipient never stalls the rest.
type Hub struct {
	registry     *Registry
	clients      map[*Client]bool
	inbound      chan inboundEvent
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	participants []string
	graceDelay   time.Duration
	mutex        sync.RWMutex
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewHub creates a Hub configured from the active server configuration
// (participant pair and offline grace delay). The returned Hub is ready to
// manage connections once Run is started.
func NewHub() *Hub {
	cfg := currentConfig()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:     NewRegistry(),
		clients:      make(map[*Client]bool),
		inbound:      make(chan inboundEvent, 64),
		broadcast:    make(chan []byte, 64),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		participants: cfg.Participants,
		graceDelay:   cfg.OfflineGrace,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Registry exposes the hub's connection registry for presence queries.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// GetRegisterChan returns the channel used to hand new connections to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used to report closed connections.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Broadcast queues a server-originated event for delivery to every live
// connection. Used by the REST mutation handlers after a persistence call;
// it never blocks past hub shutdown.
func (h *Hub) Broadcast(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// Dispatch queues an inbound envelope from a connection for routing. Events
// from one connection are processed in arrival order.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	select {
	case h.inbound <- inboundEvent{client: c, raw: raw}:
	case <-h.ctx.Done():
	}
}

// Counterpart resolves the implicit recipient for a sender in the configured
// two-party deployment: the other participant. It returns "" when the sender
// is not one of the configured pair.
func (h *Hub) Counterpart(user string) string {
	if len(h.participants) != 2 {
		return ""
	}
	switch user {
	case h.participants[0]:
		return h.participants[1]
	case h.participants[1]:
		return h.participants[0]
	}
	return ""
}

// Run starts the hub's main event loop, handling connection arrival and
// departure, inbound event routing, and server-originated broadcasts. This
// method should be called in a separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil connection; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.dropClient(client)

		case ev := <-h.inbound:
			h.route(ev.client, ev.raw)

		case payload := <-h.broadcast:
			h.broadcastTo(h.clientSnapshot(), nil, payload)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Connection %s opened from %s. Total connections: %d", client.id, client.addr, clientCount)

	if client.conn == nil {
		// Transportless connections (tests) are driven via Dispatch.
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// dropClient removes a connection from the live set and the registry. When it
// was the owning user's last connection, the delayed offline announcement is
// scheduled.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)

	user, last := h.registry.Unregister(client)
	log.Printf("Connection %s closed (user %q). Total connections: %d", client.id, user, clientCount)
	if last {
		h.scheduleOfflineAnnouncement(user)
	}
}

// scheduleOfflineAnnouncement arms the reconnect grace timer. The timer is
// never cancelled; it re-checks the registry when it fires, so a reconnect
// within the grace window suppresses the announcement.
func (h *Hub) scheduleOfflineAnnouncement(user string) {
	time.AfterFunc(h.graceDelay, func() {
		select {
		case <-h.ctx.Done():
			return
		default:
		}
		if h.registry.IsOnline(user) {
			return
		}
		log.Printf("User %q still offline after grace period; announcing", user)
		clients := h.clientSnapshot()
		h.broadcastTo(clients, nil, encodeUserStatus(user, StatusOffline))
		h.broadcastTo(clients, nil, encodeEvent(EventPeerDisconnected, map[string]string{"user": user}))
		h.broadcastTo(clients, nil, encodeEvent(EventCallEnd, map[string]string{
			"from":   user,
			"reason": "disconnect",
		}))
	})
}

// route classifies one inbound envelope and performs its side effects. All
// calls happen on the Run goroutine. Envelopes that were still queued when
// their connection was dropped are discarded; routing them would let a dead
// connection mutate the registry.
func (h *Hub) route(c *Client, raw []byte) {
	if !h.isLive(c) {
		log.Printf("Dropping queued event from closed connection %s", c.id)
		return
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		log.Printf("Dropping malformed event from %s: %v", c.addr, err)
		return
	}

	switch {
	case ev.Type == EventRegister:
		h.handleRegister(c, ev)
	case ev.Type == EventStatusQuery:
		h.handleStatusQuery(c)
	case isSignalingType(ev.Type):
		h.handleSignaling(c, ev, raw)
	default:
		// Advisory events (chat text, typing, seen echoes, ...) go to
		// everyone but the sender.
		h.broadcastTo(h.clientSnapshot(), c, raw)
	}
}

// handleRegister binds the connection to a user, announces the user online to
// everyone else, then privately primes the registrant with the counterpart's
// current status and its own.
func (h *Hub) handleRegister(c *Client, ev Event) {
	var p routingFields
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.User == "" {
		log.Printf("Dropping register without user from %s: %v", c.addr, err)
		return
	}
	if !h.registerClient(p.User, c) {
		return
	}
	log.Printf("Connection %s registered as %q", c.id, p.User)

	h.broadcastTo(h.clientSnapshot(), c, encodeUserStatus(p.User, StatusOnline))

	if other := h.Counterpart(p.User); other != "" {
		status := StatusOffline
		if h.registry.IsOnline(other) {
			status = StatusOnline
		}
		h.send(c, encodeUserStatus(other, status))
	}
	h.send(c, encodeUserStatus(p.User, StatusOnline))
}

func (h *Hub) handleStatusQuery(c *Client) {
	h.send(c, encodeEvent(EventAllUserStatuses, h.registry.Statuses(h.participants)))
}

// handleSignaling relays a call-family event verbatim to every connection of
// the addressed recipient. Nothing is queued for absent recipients; an offer
// to an offline recipient earns the sender a private notice.
func (h *Hub) handleSignaling(c *Client, ev Event, raw []byte) {
	var p routingFields
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.To == "" {
		log.Printf("Dropping %s without recipient from %s: %v", ev.Type, c.addr, err)
		return
	}

	targets := h.registry.ConnectionsFor(p.To)
	if len(targets) == 0 {
		if isOfferType(ev.Type) {
			h.send(c, encodeEvent(EventRecipientOffline, map[string]string{"recipient": p.To}))
		}
		return
	}
	h.broadcastTo(targets, nil, raw)
}

// isLive reports whether the connection is still a member of the live set.
func (h *Hub) isLive(c *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[c]
	return ok && !c.closed
}

// registerClient binds the connection under the hub lock, so a concurrent
// drop cannot interleave between the liveness check and the registry insert.
// A closed connection must never re-enter the registry: its unregister has
// already run (or is about to), and a stale entry would read as online with
// no live connection behind it.
func (h *Hub) registerClient(user string, c *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		log.Printf("Connection %s closed before registering as %q; ignoring", c.id, user)
		return false
	}
	return h.registry.Register(user, c)
}

// clientSnapshot returns a stable copy of the live connection set so fan-out
// tolerates concurrent arrivals and departures.
func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastTo delivers the payload to every listed connection except the
// sender. A failed delivery is attributed to that connection alone; the
// failing connections are dropped after the fan-out completes.
func (h *Hub) broadcastTo(clients []*Client, sender *Client, payload []byte) {
	if payload == nil {
		return
	}

	var failed []*Client
	for _, client := range clients {
		if sender != nil && client == sender {
			continue
		}
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		log.Printf("Connection %s dropped: send buffer full or closed", client.id)
		h.dropClient(client)
	}
}

// send delivers a payload to one connection, dropping it on failure.
func (h *Hub) send(client *Client, payload []byte) {
	if payload == nil {
		return
	}
	if !h.safeSend(client, payload) {
		log.Printf("Connection %s dropped: send buffer full or closed", client.id)
		h.dropClient(client)
	}
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the send so the channel cannot be closed under us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// shutdownClients closes all active connections during hub shutdown.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	clients := h.clientSnapshot()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing connection %s: %v", client.id, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
