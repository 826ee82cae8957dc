package live

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Sashemishi/userdir/internal/record"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{
		Port:   0, // ephemeral
		Logger: log.New(io.Discard, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})

	return s
}

func dialTestClient(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", s.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status field = %v, want ok", body["status"])
	}
	if body["snapshot"] != false {
		t.Errorf("health snapshot field = %v, want false before any broadcast", body["snapshot"])
	}
}

func TestServer_BroadcastRecords(t *testing.T) {
	s := newTestServer(t)
	conn := dialTestClient(t, s)
	waitForClients(t, s, 1)

	records := []record.Record{
		{ID: 1, Name: "Alice", Email: "a@x.com", Phone: "1"},
		{ID: 2, Name: "Bob", Email: "b@x.com", Phone: "2"},
	}
	s.BroadcastRecords("", records)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeRecords {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeRecords)
	}

	var data RecordsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal records data: %v", err)
	}
	if data.Count != 2 || len(data.Records) != 2 {
		t.Errorf("records data = %+v, want 2 records", data)
	}
}

func TestServer_ReplaysLatestSnapshotOnConnect(t *testing.T) {
	s := newTestServer(t)

	s.BroadcastRecords("ali", []record.Record{{ID: 1, Name: "Alice"}})

	conn := dialTestClient(t, s)
	msg := readMessage(t, conn)

	if msg.Type != MessageTypeRecords {
		t.Fatalf("replayed message type = %q, want %q", msg.Type, MessageTypeRecords)
	}

	var data RecordsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal records data: %v", err)
	}
	if data.Filter != "ali" || data.Count != 1 {
		t.Errorf("replayed data = %+v, want filter ali with 1 record", data)
	}
}

func TestServer_BroadcastSync(t *testing.T) {
	s := newTestServer(t)
	conn := dialTestClient(t, s)
	waitForClients(t, s, 1)

	now := time.Now()
	s.BroadcastSync(nil, now)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSync {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeSync)
	}

	var data SyncData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("unmarshal sync data: %v", err)
	}
	if !data.Success {
		t.Error("sync data should report success")
	}
}

func TestServer_BroadcastWithoutClients(t *testing.T) {
	s := newTestServer(t)

	// Must not block or panic with nobody connected.
	s.BroadcastRecords("", []record.Record{{ID: 1, Name: "Alice"}})
	s.BroadcastSync(nil, time.Now())
}
