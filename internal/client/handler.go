// Package client implements the player-side endpoint: one reliable stream and
// one logically connected datagram socket toward the server, with all received
// messages queued for the game thread.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/wire"
)

// State tracks the client connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAcknowledged
	StateDatagramRegistered
)

const (
	// registerInterval is the datagram registration retransmit cadence.
	registerInterval = 500 * time.Millisecond
	// registerAttempts bounds the retransmit budget; the first send counts.
	registerAttempts = 5

	inboundQueueDepth   = 256
	lifecycleQueueDepth = 64
)

// ConnectionListener observes connection lifecycle transitions. Callbacks run
// exclusively on the game thread during PollAndDispatch.
type ConnectionListener interface {
	OnConnected()
	OnDisconnected(cause error)
}

// Handler is the client-side network endpoint.
type Handler struct {
	logger     *logging.Logger
	host       string
	port       int
	playerName string

	dispatcher *dispatch.Dispatcher

	tcp net.Conn
	udp *net.UDPConn

	inbound   chan wire.Message
	lifecycle chan func()

	listenerMu sync.Mutex
	listeners  []ConnectionListener

	clientID atomic.Int32
	state    atomic.Int32

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup

	registerOnce sync.Once
	registerDone chan struct{}
}

// NewHandler builds a client endpoint for the given server address.
func NewHandler(host string, port int, playerName string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.L()
	}
	return &Handler{
		logger:       logger,
		host:         host,
		port:         port,
		playerName:   playerName,
		dispatcher:   dispatch.NewDispatcher(logger),
		inbound:      make(chan wire.Message, inboundQueueDepth),
		lifecycle:    make(chan func(), lifecycleQueueDepth),
		registerDone: make(chan struct{}),
	}
}

// Dispatcher exposes the message dispatcher so the host can register handlers.
func (h *Handler) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// State reports the current lifecycle state.
func (h *Handler) State() State { return State(h.state.Load()) }

// ClientID returns the server-assigned id, or 0 before the acknowledgement.
func (h *Handler) ClientID() int32 { return h.clientID.Load() }

// Start dials the reliable stream, binds the datagram socket, and sends the
// connect request. Starting twice is a warning no-op.
func (h *Handler) Start() error {
	if !h.started.CompareAndSwap(false, true) {
		h.logger.Warn("client handler already started")
		return nil
	}

	//1.- Open the reliable stream first; without it there is no session.
	addr := fmt.Sprintf("%s:%d", h.host, h.port)
	tcp, err := net.Dial("tcp", addr)
	if err != nil {
		h.state.Store(int32(StateDisconnected))
		h.enqueueLifecycle(func() { h.notifyDisconnected(err) })
		return fmt.Errorf("dial reliable stream: %w", err)
	}

	//2.- Bind an ephemeral datagram socket and connect it logically to the
	// server so the kernel filters datagrams from foreign senders.
	serverAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		tcp.Close()
		return fmt.Errorf("resolve datagram endpoint: %w", err)
	}
	udp, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		tcp.Close()
		return fmt.Errorf("bind datagram socket: %w", err)
	}

	h.tcp = tcp
	h.udp = udp
	h.state.Store(int32(StateConnecting))
	h.enqueueLifecycle(h.notifyConnected)

	//3.- The handshake opens with the player name on the reliable channel.
	h.sendReliable(wire.ConnectRequest{PlayerName: h.playerName})

	h.wg.Add(2)
	go h.streamLoop()
	go h.datagramLoop()

	h.logger.Info("client connected", logging.String("server", addr))
	return nil
}

// Shutdown closes both channels and reports the cause through the lifecycle
// queue. Idempotent.
func (h *Handler) Shutdown(reason string) {
	if !h.started.Load() || !h.stopped.CompareAndSwap(false, true) {
		return
	}
	h.cancelRegistration()
	if h.tcp != nil {
		h.tcp.Close()
	}
	if h.udp != nil {
		h.udp.Close()
	}
	h.wg.Wait()
	h.state.Store(int32(StateDisconnected))
	h.enqueueLifecycle(func() { h.notifyDisconnected(errors.New(reason)) })
	h.logger.Info("client handler shut down", logging.String("reason", reason))
}

// Send writes one control message on the reliable channel.
func (h *Handler) Send(msg wire.Message) {
	if !h.started.Load() || h.stopped.Load() || h.tcp == nil {
		h.logger.Warn("reliable channel not active, dropping message",
			logging.String("variant", msg.Type()))
		return
	}
	h.sendReliable(msg)
}

// SendInput stamps the intent with the assigned client id and writes it on the
// datagram channel. Inputs before the acknowledgement are refused.
func (h *Handler) SendInput(action wire.Action, point wire.Point) {
	clientID := h.clientID.Load()
	if clientID <= 0 {
		h.logger.Info("dropping input, no client id assigned yet")
		return
	}
	if h.stopped.Load() || h.udp == nil {
		h.logger.Warn("datagram channel not active, dropping input")
		return
	}
	h.sendDatagram(wire.Input{ClientID: clientID, Action: action, Point: point})
}

// AddConnectionListener registers a lifecycle observer.
func (h *Handler) AddConnectionListener(listener ConnectionListener) {
	if listener == nil {
		return
	}
	h.listenerMu.Lock()
	h.listeners = append(h.listeners, listener)
	h.listenerMu.Unlock()
}

// RemoveConnectionListener removes a previously registered observer.
func (h *Handler) RemoveConnectionListener(listener ConnectionListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	for i, l := range h.listeners {
		if l == listener {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

// PollAndDispatch drains queued lifecycle callbacks first, then inbound
// messages, delivering each through the dispatcher. Call once per frame from
// the game thread; nothing here blocks.
func (h *Handler) PollAndDispatch() {
	draining := true
	for draining {
		select {
		case fn := <-h.lifecycle:
			fn()
		default:
			draining = false
		}
	}
	for {
		select {
		case msg := <-h.inbound:
			h.dispatcher.Dispatch(msg)
		default:
			return
		}
	}
}

// ---------- reception ----------

func (h *Handler) streamLoop() {
	defer h.wg.Done()
	reader := bufio.NewReader(h.tcp)
	for {
		payload, err := wire.ReadFrame(reader)
		if err != nil {
			h.streamClosed(err)
			return
		}
		payload, err = wire.UnpackFrame(payload)
		if err != nil {
			h.streamClosed(err)
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			if errors.Is(err, wire.ErrFraming) {
				h.streamClosed(err)
				return
			}
			h.logger.Warn("dropping undecodable reliable message", logging.Error(err))
			continue
		}

		if ack, ok := msg.(wire.ConnectAck); ok {
			h.handleConnectAck(ack)
			continue
		}
		h.enqueueInbound(msg)
	}
}

func (h *Handler) streamClosed(err error) {
	if h.stopped.Load() {
		return
	}
	h.cancelRegistration()
	h.state.Store(int32(StateDisconnected))
	cause := err
	if errors.Is(err, io.EOF) {
		cause = nil
	} else {
		h.logger.Warn("reliable channel closed", logging.Error(err))
	}
	h.enqueueLifecycle(func() { h.notifyDisconnected(cause) })
}

func (h *Handler) datagramLoop() {
	defer h.wg.Done()
	buf := make([]byte, wire.MaxDatagramRecv)
	for {
		n, err := h.udp.Read(buf)
		if err != nil {
			return
		}
		payload, err := wire.UnpackDatagram(append([]byte(nil), buf[:n]...))
		if err != nil {
			h.logger.Warn("undecodable datagram", logging.Error(err))
			continue
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			h.logger.Warn("dropping undecodable datagram", logging.Error(err))
			continue
		}
		if _, ok := msg.(wire.Snapshot); ok {
			// The first snapshot proves the server learned our datagram
			// address; the registration retransmit can stop.
			h.markRegistered()
		}
		h.enqueueInbound(msg)
	}
}

// handleConnectAck stores the assigned id and begins the datagram registration
// retransmit schedule.
func (h *Handler) handleConnectAck(ack wire.ConnectAck) {
	h.clientID.Store(ack.ClientID)
	h.state.CompareAndSwap(int32(StateConnecting), int32(StateAcknowledged))
	h.logger.Info("received connect ack", logging.Int("client_id", int(ack.ClientID)))

	h.wg.Add(1)
	go h.registerLoop(ack.ClientID)
}

// registerLoop retransmits REGISTER_UDP at a linear cadence until the budget
// is spent or the first snapshot arrives.
func (h *Handler) registerLoop(clientID int32) {
	defer h.wg.Done()
	ticker := time.NewTicker(registerInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= registerAttempts; attempt++ {
		h.sendDatagram(wire.RegisterUDP{ClientID: clientID})
		if attempt > 1 {
			h.logger.Debug("retransmitted datagram registration",
				logging.Int("attempt", attempt), logging.Int("client_id", int(clientID)))
		}
		select {
		case <-h.registerDone:
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) markRegistered() {
	h.cancelRegistration()
	h.state.CompareAndSwap(int32(StateAcknowledged), int32(StateDatagramRegistered))
}

func (h *Handler) cancelRegistration() {
	h.registerOnce.Do(func() { close(h.registerDone) })
}

// ---------- transmission ----------

func (h *Handler) sendReliable(msg wire.Message) {
	payload, err := wire.Encode(msg)
	if err != nil {
		h.logger.Warn("failed to encode reliable message", logging.Error(err))
		return
	}
	payload = wire.PackFrame(payload)
	if err := wire.WriteFrame(h.tcp, payload); err != nil {
		h.logger.Warn("failed to write reliable frame", logging.Error(err))
	}
}

func (h *Handler) sendDatagram(msg wire.Message) {
	payload, err := wire.Encode(msg)
	if err != nil {
		h.logger.Warn("failed to encode datagram", logging.Error(err))
		return
	}
	payload = wire.PackDatagram(payload)
	if len(payload) > wire.MaxDatagramSend {
		h.logger.Warn("dropping oversized datagram",
			logging.Int("bytes", len(payload)), logging.String("variant", msg.Type()))
		return
	}
	if _, err := h.udp.Write(payload); err != nil {
		h.logger.Warn("failed to send datagram", logging.Error(err))
	}
}

// ---------- lifecycle notifications ----------

func (h *Handler) enqueueInbound(msg wire.Message) {
	select {
	case h.inbound <- msg:
	default:
		h.logger.Warn("inbound queue full, dropping message",
			logging.String("variant", msg.Type()))
	}
}

func (h *Handler) enqueueLifecycle(fn func()) {
	select {
	case h.lifecycle <- fn:
	default:
		h.logger.Warn("lifecycle queue full, dropping notification")
	}
}

func (h *Handler) notifyConnected() {
	for _, listener := range h.snapshotListeners() {
		listener.OnConnected()
	}
}

func (h *Handler) notifyDisconnected(cause error) {
	for _, listener := range h.snapshotListeners() {
		listener.OnDisconnected(cause)
	}
}

func (h *Handler) snapshotListeners() []ConnectionListener {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	return append([]ConnectionListener(nil), h.listeners...)
}
