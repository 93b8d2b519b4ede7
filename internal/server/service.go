// Package server hosts the authoritative side of the netcode: the dual-channel
// transport endpoint and the fixed-rate tick loop that consumes it.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"deepdelve/netcore/internal/game"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/session"
	"deepdelve/netcore/internal/wire"
)

const (
	// inputQueueDepth bounds buffered player intents between ticks.
	inputQueueDepth = 1024
	// spawnQueueDepth bounds pending entity spawn lookups.
	spawnQueueDepth = 64
)

// spawnRequest carries a client's entity lookup onto the tick thread, which
// owns the world and answers with an ENTITY_SPAWN_EVENT.
type spawnRequest struct {
	handle     session.HandleID
	entityName string
}

// conn is one accepted reliable connection.
type conn struct {
	handle  session.HandleID
	tcp     net.Conn
	writeMu sync.Mutex
}

// Service binds the reliable-stream listener and the datagram socket to the
// same port and bridges decoded messages into the session registry and the
// input queue. I/O goroutines never touch simulation state.
type Service struct {
	logger   *logging.Logger
	registry *session.Registry
	catalog  game.LevelCatalog
	port     int

	tcpListener net.Listener
	udpConn     *net.UDPConn

	mu         sync.Mutex
	conns      map[session.HandleID]*conn
	observers  []func(payload []byte)
	nextHandle uint64

	inputQueue chan wire.Input
	spawnQueue chan spawnRequest

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewService wires a transport endpoint for the given port.
func NewService(port int, registry *session.Registry, catalog game.LevelCatalog, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.L()
	}
	return &Service{
		logger:     logger,
		registry:   registry,
		catalog:    catalog,
		port:       port,
		conns:      make(map[session.HandleID]*conn),
		inputQueue: make(chan wire.Input, inputQueueDepth),
		spawnQueue: make(chan spawnRequest, spawnQueueDepth),
	}
}

// Start binds the reliable listener first, then the datagram socket, and
// spawns the reception goroutines. Starting twice is a warning no-op.
func (s *Service) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("server service already started")
		return nil
	}

	//1.- Reliable listener first, then the datagram socket on the same port.
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("bind reliable listener: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.port})
	if err != nil {
		listener.Close()
		return fmt.Errorf("bind datagram socket: %w", err)
	}
	s.tcpListener = listener
	s.udpConn = udpConn

	s.wg.Add(2)
	go s.acceptLoop()
	go s.datagramLoop()

	s.logger.Info("server service started", logging.Int("port", s.port))
	return nil
}

// Stop closes the datagram socket, then the reliable listener and every live
// connection, and waits for the reception goroutines. Stopping twice or before
// start is a no-op.
func (s *Service) Stop() {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.tcp.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("server service stopped")
}

// InputQueue exposes the multi-producer single-consumer intent queue drained
// by the tick loop.
func (s *Service) InputQueue() <-chan wire.Input { return s.inputQueue }

// AddBroadcastObserver registers a callback invoked with the encoded payload
// of every datagram broadcast. Used by the spectator feed.
func (s *Service) AddBroadcastObserver(fn func(payload []byte)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// SendReliable frames and writes one message to the handle's stream. Failures
// are logged, never raised into game code.
func (s *Service) SendReliable(handle session.HandleID, msg wire.Message) {
	s.mu.Lock()
	c := s.conns[handle]
	s.mu.Unlock()
	if c == nil {
		s.logger.Warn("send to inactive reliable handle",
			logging.Uint64("handle", uint64(handle)), logging.String("variant", msg.Type()))
		return
	}
	s.writeReliable(c, msg)
}

// BroadcastReliable sends a control message to every live reliable connection.
func (s *Service) BroadcastReliable(msg wire.Message) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		s.writeReliable(c, msg)
	}
}

func (s *Service) writeReliable(c *conn, msg wire.Message) {
	payload, err := wire.Encode(msg)
	if err != nil {
		s.logger.Warn("failed to encode reliable message", logging.Error(err))
		return
	}
	payload = wire.PackFrame(payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteFrame(c.tcp, payload); err != nil {
		s.logger.Warn("failed to write reliable frame",
			logging.Uint64("handle", uint64(c.handle)), logging.Error(err))
	}
}

// SendDatagram encodes and writes one message to the given datagram address.
// Payloads still above the send cap after compression are dropped.
func (s *Service) SendDatagram(addr *net.UDPAddr, msg wire.Message) {
	udpConn := s.udpConn
	if udpConn == nil || addr == nil {
		return
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		s.logger.Warn("failed to encode datagram", logging.Error(err))
		return
	}
	payload = wire.PackDatagram(payload)
	if len(payload) > wire.MaxDatagramSend {
		s.logger.Warn("dropping oversized datagram",
			logging.Int("bytes", len(payload)), logging.String("variant", msg.Type()))
		return
	}
	if _, err := udpConn.WriteToUDP(payload, addr); err != nil {
		s.logger.Warn("failed to send datagram", logging.Error(err))
	}
}

// BroadcastDatagram fans a message out to every registered datagram peer using
// an immutable snapshot of the peer map.
func (s *Service) BroadcastDatagram(msg wire.Message) {
	for _, addr := range s.registry.DatagramPeers() {
		s.SendDatagram(addr, msg)
	}
	s.notifyObservers(msg)
}

func (s *Service) notifyObservers(msg wire.Message) {
	s.mu.Lock()
	observers := append([]func([]byte){}, s.observers...)
	s.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		return
	}
	for _, fn := range observers {
		fn(payload)
	}
}

// ---------- reception ----------

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		tcp, err := s.tcpListener.Accept()
		if err != nil {
			if s.stopped.Load() {
				return
			}
			s.logger.Warn("accept failed", logging.Error(err))
			return
		}
		handle := session.HandleID(atomic.AddUint64(&s.nextHandle, 1))
		c := &conn{handle: handle, tcp: tcp}
		s.mu.Lock()
		s.conns[handle] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(c)
	}
}

// serveConn is the per-connection inbound pipeline: decode frame, deliver
// variant. Connection close triggers session cleanup.
func (s *Service) serveConn(c *conn) {
	defer s.wg.Done()
	defer s.dropConn(c)

	reader := bufio.NewReader(c.tcp)
	for {
		payload, err := wire.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.stopped.Load() {
				s.logger.Warn("reliable channel read failed",
					logging.Uint64("handle", uint64(c.handle)), logging.Error(err))
			}
			return
		}
		payload, err = wire.UnpackFrame(payload)
		if err != nil {
			s.logger.Warn("undecodable reliable payload", logging.Error(err))
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			// Framing on a stream is unrecoverable; decode-level failures only
			// cost the single message.
			if errors.Is(err, wire.ErrFraming) {
				s.logger.Warn("closing connection on framing error",
					logging.Uint64("handle", uint64(c.handle)), logging.Error(err))
				return
			}
			s.logger.Warn("dropping undecodable reliable message", logging.Error(err))
			continue
		}
		s.routeReliable(c, msg)
	}
}

func (s *Service) routeReliable(c *conn, msg wire.Message) {
	switch m := msg.(type) {
	case wire.ConnectRequest:
		s.handleConnect(c, m)
	case wire.RequestEntitySpawn:
		select {
		case s.spawnQueue <- spawnRequest{handle: c.handle, entityName: m.EntityName}:
		default:
			s.logger.Warn("spawn request queue full, dropping",
				logging.String("entity", m.EntityName))
		}
	default:
		s.logger.Debug("unexpected reliable variant", logging.String("variant", msg.Type()))
	}
}

func (s *Service) handleConnect(c *conn, req wire.ConnectRequest) {
	clientID, err := s.registry.Accept(c.handle, req.PlayerName)
	if err != nil {
		s.logger.Warn("rejecting connect",
			logging.String("player", req.PlayerName), logging.Error(err))
		s.writeReliable(c, wire.ConnectReject{Reason: session.RejectReason})
		c.tcp.Close()
		return
	}

	s.logger.Info("accepted connect",
		logging.Int("client_id", int(clientID)), logging.String("player", req.PlayerName))
	s.writeReliable(c, wire.ConnectAck{ClientID: clientID})
	s.writeReliable(c, wire.LevelChange{LevelName: s.catalog.CurrentLevel()})
}

func (s *Service) dropConn(c *conn) {
	c.tcp.Close()
	s.mu.Lock()
	delete(s.conns, c.handle)
	s.mu.Unlock()
	if clientID, ok := s.registry.DropHandle(c.handle); ok {
		s.logger.Info("client disconnected", logging.Int("client_id", int(clientID)))
	}
}

func (s *Service) datagramLoop() {
	defer s.wg.Done()
	buf := make([]byte, wire.MaxDatagramRecv)
	for {
		n, sender, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			s.logger.Warn("datagram read failed", logging.Error(err))
			return
		}
		if n == 0 || n > wire.MaxDatagramRecv {
			s.logger.Warn("dropping datagram with invalid size", logging.Int("bytes", n))
			continue
		}
		payload, err := wire.UnpackDatagram(append([]byte(nil), buf[:n]...))
		if err != nil {
			s.logger.Warn("undecodable datagram", logging.Error(err))
			continue
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			s.logger.Warn("dropping undecodable datagram", logging.Error(err))
			continue
		}
		s.routeDatagram(sender, msg)
	}
}

func (s *Service) routeDatagram(sender *net.UDPAddr, msg wire.Message) {
	switch m := msg.(type) {
	case wire.RegisterUDP:
		if !s.registry.RegisterDatagram(sender, m.ClientID) {
			s.logger.Warn("ignoring datagram registration for unknown client",
				logging.Int("client_id", int(m.ClientID)))
			return
		}
		s.logger.Info("registered datagram address",
			logging.Int("client_id", int(m.ClientID)), logging.String("addr", sender.String()))
	case wire.Input:
		select {
		case s.inputQueue <- m:
		default:
			s.logger.Warn("input queue full, dropping intent",
				logging.Int("client_id", int(m.ClientID)))
		}
	default:
		s.logger.Debug("unexpected datagram variant", logging.String("variant", msg.Type()))
	}
}
