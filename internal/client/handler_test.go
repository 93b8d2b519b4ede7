package client

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"deepdelve/netcore/internal/dispatch"
	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/wire"
)

// stubServer is a minimal hand-rolled authority for driving the client.
type stubServer struct {
	t        *testing.T
	listener net.Listener
	udp      *net.UDPConn
	port     int

	mu         sync.Mutex
	tcpConn    net.Conn
	clientAddr *net.UDPAddr
	registers  int
	connects   []string
}

func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	s := &stubServer{t: t, listener: listener, udp: udp, port: port}
	go s.acceptOne()
	go s.readDatagrams()
	t.Cleanup(func() {
		listener.Close()
		udp.Close()
		s.mu.Lock()
		if s.tcpConn != nil {
			s.tcpConn.Close()
		}
		s.mu.Unlock()
	})
	return s
}

func (s *stubServer) acceptOne() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.tcpConn = conn
	s.mu.Unlock()

	reader := bufio.NewReader(conn)
	for {
		payload, err := wire.ReadFrame(reader)
		if err != nil {
			return
		}
		payload, err = wire.UnpackFrame(payload)
		if err != nil {
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			continue
		}
		if req, ok := msg.(wire.ConnectRequest); ok {
			s.mu.Lock()
			s.connects = append(s.connects, req.PlayerName)
			s.mu.Unlock()
			s.sendReliable(wire.ConnectAck{ClientID: 1})
			s.sendReliable(wire.LevelChange{LevelName: "maze"})
		}
	}
}

func (s *stubServer) readDatagrams() {
	buf := make([]byte, wire.MaxDatagramRecv)
	for {
		n, sender, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload, err := wire.UnpackDatagram(append([]byte(nil), buf[:n]...))
		if err != nil {
			continue
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			continue
		}
		if _, ok := msg.(wire.RegisterUDP); ok {
			s.mu.Lock()
			s.clientAddr = sender
			s.registers++
			s.mu.Unlock()
		}
	}
}

func (s *stubServer) sendReliable(msg wire.Message) {
	s.mu.Lock()
	conn := s.tcpConn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		s.t.Errorf("encode: %v", err)
		return
	}
	_ = wire.WriteFrame(conn, wire.PackFrame(payload))
}

func (s *stubServer) sendSnapshot(tick int64) {
	s.mu.Lock()
	addr := s.clientAddr
	s.mu.Unlock()
	if addr == nil {
		return
	}
	payload, err := wire.Encode(wire.Snapshot{ServerTick: tick, Entities: []wire.EntityState{{
		EntityName: "hero-Alice", Position: wire.Point{X: 1, Y: 2},
	}}})
	if err != nil {
		s.t.Errorf("encode snapshot: %v", err)
		return
	}
	_, _ = s.udp.WriteToUDP(wire.PackDatagram(payload), addr)
}

func (s *stubServer) registerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers
}

func (s *stubServer) clientRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientAddr != nil
}

type recordingListener struct {
	mu           sync.Mutex
	connected    int
	disconnected int
}

func (l *recordingListener) OnConnected() {
	l.mu.Lock()
	l.connected++
	l.mu.Unlock()
}

func (l *recordingListener) OnDisconnected(error) {
	l.mu.Lock()
	l.disconnected++
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected, l.disconnected
}

func poll(t *testing.T, h *Handler, timeout time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached within %v", timeout)
		}
		h.PollAndDispatch()
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandshakeAndDatagramRegistration(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())

	listener := &recordingListener{}
	handler.AddConnectionListener(listener)

	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { handler.Shutdown("test over") })

	poll(t, handler, 2*time.Second, func() bool { return handler.ClientID() == 1 })
	poll(t, handler, 2*time.Second, server.clientRegistered)

	connected, _ := listener.counts()
	if connected != 1 {
		t.Fatalf("connected callback ran %d times, want 1", connected)
	}
	if handler.State() != StateAcknowledged {
		t.Fatalf("unexpected state %d", handler.State())
	}
}

func TestRegistrationRetransmitStopsOnFirstSnapshot(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())
	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { handler.Shutdown("test over") })

	poll(t, handler, 2*time.Second, server.clientRegistered)

	var applied []int64
	dispatch.Register(handler.Dispatcher(), func(snap wire.Snapshot) {
		applied = append(applied, snap.ServerTick)
	})

	server.sendSnapshot(1)
	poll(t, handler, 2*time.Second, func() bool { return len(applied) > 0 })

	if handler.State() != StateDatagramRegistered {
		t.Fatalf("first snapshot must move the state to registered, got %d", handler.State())
	}

	// The retransmit loop must stop: well past the 500ms cadence the count
	// grows by at most one send that was already in flight.
	frozen := server.registerCount()
	time.Sleep(1200 * time.Millisecond)
	if server.registerCount() > frozen+1 {
		t.Fatalf("registration kept retransmitting after the first snapshot")
	}
}

func TestRegistrationRetransmitBudget(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())
	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { handler.Shutdown("test over") })

	// No snapshot ever arrives; the budget caps the attempts.
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		handler.PollAndDispatch()
		time.Sleep(20 * time.Millisecond)
	}
	if n := server.registerCount(); n == 0 || n > registerAttempts {
		t.Fatalf("expected between 1 and %d registration sends, got %d", registerAttempts, n)
	}
}

func TestSendInputRefusedBeforeAcknowledgement(t *testing.T) {
	handler := NewHandler("127.0.0.1", 1, "Alice", logging.NewTestLogger())
	// Never started, no client id: must be a quiet no-op.
	handler.SendInput(wire.ActionMove, wire.Point{X: 1})
}

func TestShutdownIsIdempotentAndNotifiesListeners(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())

	listener := &recordingListener{}
	handler.AddConnectionListener(listener)
	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	poll(t, handler, 2*time.Second, func() bool { return handler.ClientID() == 1 })

	handler.Shutdown("bye")
	handler.Shutdown("bye again")
	handler.PollAndDispatch()

	_, disconnected := listener.counts()
	if disconnected != 1 {
		t.Fatalf("disconnect callback ran %d times, want 1", disconnected)
	}
	if handler.State() != StateDisconnected {
		t.Fatalf("unexpected state %d", handler.State())
	}
}

func TestServerCloseSurfacesDisconnect(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())

	listener := &recordingListener{}
	handler.AddConnectionListener(listener)
	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { handler.Shutdown("test over") })
	poll(t, handler, 2*time.Second, func() bool { return handler.ClientID() == 1 })

	server.mu.Lock()
	server.tcpConn.Close()
	server.mu.Unlock()

	poll(t, handler, 2*time.Second, func() bool {
		_, disconnected := listener.counts()
		return disconnected == 1
	})
}

func TestStartFailsWhenServerUnreachable(t *testing.T) {
	// Reserve a port and close it again so nothing listens there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	handler := NewHandler("127.0.0.1", port, "Alice", logging.NewTestLogger())
	if err := handler.Start(); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestLevelChangeIsQueuedForTheGameThread(t *testing.T) {
	server := newStubServer(t)
	handler := NewHandler("127.0.0.1", server.port, "Alice", logging.NewTestLogger())

	var levels []string
	dispatch.Register(handler.Dispatcher(), func(change wire.LevelChange) {
		levels = append(levels, change.LevelName)
	})

	if err := handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { handler.Shutdown("test over") })

	poll(t, handler, 2*time.Second, func() bool { return len(levels) > 0 })
	if levels[0] != "maze" {
		t.Fatalf("unexpected level %q", levels[0])
	}
}
