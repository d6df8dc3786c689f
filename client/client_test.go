package client

import (
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"taglink/fdi"
	"taglink/server"
	"taglink/tagstore"
)

// startServer brings up a real FDI server on a loopback port.
func startServer(t *testing.T) (*server.Server, string, int) {
	t.Helper()
	store := tagstore.NewStore()
	store.Insert(tagstore.Tag{ID: 1001, Name: "fill_count", Access: tagstore.ReadWrite, Value: tagstore.IntValue(42)})
	store.Insert(tagstore.Tag{ID: 1002, Name: "line_speed", Access: tagstore.ReadWrite, Value: tagstore.FloatValue(0)})
	store.Insert(tagstore.Tag{ID: 1003, Name: "batch_label", Access: tagstore.ReadWrite, Value: tagstore.StringValue("Hi")})
	store.Insert(tagstore.Tag{ID: 1004, Name: "total_units", Access: tagstore.ReadOnly, Value: tagstore.UintValue(100000)})
	store.Insert(tagstore.Tag{ID: 1005, Name: "reset_cmd", Access: tagstore.WriteOnly, Value: tagstore.IntValue(0)})

	srv := server.NewServer(store)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(srv.Stop)

	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return srv, host, port
}

// connect returns a connected client without heartbeat (tests drive their
// own exchanges).
func connect(t *testing.T, host string, port int) *Client {
	t.Helper()
	c := New(host, WithPort(port), WithoutHeartbeat(), WithTimeout(2*time.Second))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestNotConnectedFailsFast(t *testing.T) {
	c := New("127.0.0.1", WithPort(1), WithoutHeartbeat())
	if err := c.NoOp(); !errors.Is(err, fdi.ErrNotConnected) {
		t.Errorf("NoOp: got %v, want ErrNotConnected", err)
	}
	if _, err := c.ReadInt(1001); !errors.Is(err, fdi.ErrNotConnected) {
		t.Errorf("ReadInt: got %v, want ErrNotConnected", err)
	}
	if err := c.WriteString(1003, "x"); !errors.Is(err, fdi.ErrNotConnected) {
		t.Errorf("WriteString: got %v, want ErrNotConnected", err)
	}
}

func TestConnectDisconnect(t *testing.T) {
	_, host, port := startServer(t)
	c := New(host, WithPort(port), WithoutHeartbeat())
	if c.IsConnected() {
		t.Error("new client reports connected")
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("client not connected after Connect")
	}
	// Second Connect is a no-op.
	if err := c.Connect(); err != nil {
		t.Errorf("repeat Connect failed: %v", err)
	}
	c.Disconnect()
	if c.IsConnected() {
		t.Error("client still connected after Disconnect")
	}
	c.Disconnect() // idempotent
}

func TestNoOpExchange(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	if err := c.NoOp(); err != nil {
		t.Errorf("NoOp failed: %v", err)
	}
}

func TestReadInt(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	v, err := c.ReadInt(1001)
	if err != nil {
		t.Fatalf("ReadInt failed: %v", err)
	}
	if v != 42 {
		t.Errorf("ReadInt = %d, want 42", v)
	}
}

func TestReadUint(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	v, err := c.ReadUint(1004)
	if err != nil {
		t.Fatalf("ReadUint failed: %v", err)
	}
	if v != 100000 {
		t.Errorf("ReadUint = %d, want 100000", v)
	}
}

func TestWriteReadFloat(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	if err := c.WriteFloat(1002, 3.14); err != nil {
		t.Fatalf("WriteFloat failed: %v", err)
	}
	v, err := c.ReadFloat(1002)
	if err != nil {
		t.Fatalf("ReadFloat failed: %v", err)
	}
	if v < 3.139 || v > 3.141 {
		t.Errorf("ReadFloat = %g, want ~3.14", v)
	}
}

func TestWriteReadInt(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	if err := c.WriteInt(1001, -12345); err != nil {
		t.Fatalf("WriteInt failed: %v", err)
	}
	v, err := c.ReadInt(1001)
	if err != nil {
		t.Fatalf("ReadInt failed: %v", err)
	}
	if v != -12345 {
		t.Errorf("ReadInt = %d, want -12345", v)
	}
}

func TestReadString(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	s, err := c.ReadString(1003)
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if s != "Hi" {
		t.Errorf("ReadString = %q, want %q", s, "Hi")
	}
}

func TestWriteReadStringRoundTrip(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	for _, text := range []string{"", "Charge 7731 / Linie 2", "🍺 Abfüllung läuft"} {
		if err := c.WriteString(1003, text); err != nil {
			t.Fatalf("WriteString(%q) failed: %v", text, err)
		}
		got, err := c.ReadString(1003)
		if err != nil {
			t.Fatalf("ReadString failed: %v", err)
		}
		if got != text {
			t.Errorf("round trip %q = %q", text, got)
		}
	}
}

func TestStatusSurfacedVerbatim(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)

	// Read of a write-only tag.
	if _, err := c.ReadInt(1005); !fdi.IsStatus(err, fdi.StatusUnauthorized) {
		t.Errorf("write-only read: got %v, want UnauthorizedAccess status", err)
	}
	// Write of a read-only tag.
	if err := c.WriteUint(1004, 1); !fdi.IsStatus(err, fdi.StatusUnauthorized) {
		t.Errorf("read-only write: got %v, want UnauthorizedAccess status", err)
	}
	// Unknown tag.
	if _, err := c.ReadInt(9999); !fdi.IsStatus(err, fdi.StatusImplausibleArg) {
		t.Errorf("unknown tag: got %v, want ImplausibleArgument status", err)
	}
	// Numeric read of a string tag.
	if _, err := c.ReadInt(1003); !fdi.IsStatus(err, fdi.StatusImplausibleArg) {
		t.Errorf("string tag numeric read: got %v, want ImplausibleArgument status", err)
	}
	// String read of a numeric tag.
	if _, err := c.ReadString(1001); !fdi.IsStatus(err, fdi.StatusImplausibleArg) {
		t.Errorf("numeric tag string read: got %v, want ImplausibleArgument status", err)
	}

	// A surfaced status does not desynchronize the stream.
	if err := c.NoOp(); err != nil {
		t.Errorf("NoOp after status errors failed: %v", err)
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	_, host, port := startServer(t)
	c := connect(t, host, port)
	err := c.WriteString(1003, string([]byte{0xFF, 0xFE}))
	if !errors.Is(err, fdi.ErrInvalidUTF8) {
		t.Errorf("got %v, want ErrInvalidUTF8", err)
	}
	// Nothing touched the wire; the connection is still usable.
	if err := c.NoOp(); err != nil {
		t.Errorf("NoOp after rejected input failed: %v", err)
	}
}

func TestTimeoutClosesConnection(t *testing.T) {
	// A listener that accepts and never replies.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(io.Discard, c) // swallow requests, never answer
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	c := New(host, WithPort(port), WithoutHeartbeat(), WithTimeout(200*time.Millisecond))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.NoOp(); !errors.Is(err, fdi.ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
	if c.IsConnected() {
		t.Error("client still connected after timeout")
	}
}

func TestInvalidNoOpResponse(t *testing.T) {
	// A fake server that answers NoOp with the wrong status.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, fdi.FrameSize)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}) // Successful instead of Alive
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	c := New(host, WithPort(port), WithoutHeartbeat(), WithTimeout(time.Second))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.NoOp(); !errors.Is(err, fdi.ErrInvalidNoOpResponse) {
		t.Errorf("got %v, want ErrInvalidNoOpResponse", err)
	}
}

func TestHeartbeatKeepsRunning(t *testing.T) {
	_, host, port := startServer(t)
	c := New(host, WithPort(port), WithHeartbeatInterval(50*time.Millisecond), WithTimeout(time.Second))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	time.Sleep(300 * time.Millisecond)
	if !c.IsConnected() {
		t.Error("client disconnected while heartbeating against a live server")
	}
}

func TestHeartbeatFailureDisconnects(t *testing.T) {
	srv, host, port := startServer(t)
	c := New(host, WithPort(port), WithHeartbeatInterval(50*time.Millisecond), WithTimeout(500*time.Millisecond))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	srv.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("client still connected after server went away")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
