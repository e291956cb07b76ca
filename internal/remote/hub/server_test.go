package hub

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"habitd/internal/dates"
	"habitd/internal/remote"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// startTestHub starts a hub on a free port and returns it with its address.
func startTestHub(t *testing.T, statePath string) *Server {
	t.Helper()

	srv, err := NewServer(Config{Addr: "127.0.0.1:0", StatePath: statePath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dialTestClient(t *testing.T, addr string) *remote.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := remote.Dial(ctx, addr, quietLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpdateThenGetRoundTrip(t *testing.T) {
	srv := startTestHub(t, "")
	c := dialTestClient(t, srv.Addr())

	c.UpdateGlobalData("personal_goals", remote.Document{"goals": []any{"exercise"}})

	deadline := time.Now().Add(3 * time.Second)
	for {
		doc, err := c.GetGlobalData(context.Background(), "personal_goals")
		if err != nil {
			t.Fatalf("GetGlobalData: %v", err)
		}
		if doc != nil {
			if _, ok := doc["goals"]; !ok {
				t.Fatalf("doc = %v, missing goals", doc)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("update never became visible")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	srv := startTestHub(t, "")
	c := dialTestClient(t, srv.Addr())

	doc, err := c.GetGlobalData(context.Background(), "never_written")
	if err != nil {
		t.Fatalf("GetGlobalData: %v", err)
	}
	if doc != nil {
		t.Errorf("missing key = %v, want nil", doc)
	}
}

func TestSubscriberSeesOtherDeviceWrites(t *testing.T) {
	srv := startTestHub(t, "")
	reader := dialTestClient(t, srv.Addr())
	writer := dialTestClient(t, srv.Addr())

	events := make(chan remote.Document, 8)
	cancel, err := reader.SubscribeGlobalData("study_goal", func(d remote.Document) {
		events <- d
	})
	if err != nil {
		t.Fatalf("SubscribeGlobalData: %v", err)
	}
	defer cancel()

	// Give the subscribe frame time to land before writing.
	time.Sleep(100 * time.Millisecond)
	writer.UpdateGlobalData("study_goal", remote.Document{"active": "aws-saa"})

	select {
	case doc := <-events:
		if doc["active"] != "aws-saa" {
			t.Errorf("event doc = %v", doc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber never saw the write")
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "hub.json")

	srv := startTestHub(t, statePath)
	c := dialTestClient(t, srv.Addr())
	c.UpdateGlobalData("personal_goals", remote.Document{"v": "kept"})

	// Wait until the write is applied, then bounce the hub.
	deadline := time.Now().Add(3 * time.Second)
	for srv.state.Get("personal_goals") == nil {
		if time.Now().After(deadline) {
			t.Fatal("write never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Close()
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	srv2 := startTestHub(t, statePath)
	c2 := dialTestClient(t, srv2.Addr())
	doc, err := c2.GetGlobalData(context.Background(), "personal_goals")
	if err != nil {
		t.Fatalf("GetGlobalData after restart: %v", err)
	}
	if doc == nil || doc["v"] != "kept" {
		t.Errorf("doc after restart = %v, want v=kept", doc)
	}
}

func TestLogUpdateAndFetch(t *testing.T) {
	srv := startTestHub(t, "")
	c := dialTestClient(t, srv.Addr())

	c.UpdateTodayLog("goals", remote.Document{"exercise": true})

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, err := c.GetLogForDate(context.Background(), dates.Today())
		if err != nil {
			t.Fatalf("GetLogForDate: %v", err)
		}
		if rec != nil {
			goals, _ := rec["goals"].(map[string]any)
			if goals["exercise"] != true {
				t.Fatalf("log record = %v", rec)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("log update never became visible")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsProtocolMismatch(t *testing.T) {
	srv := startTestHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/sync", nil)
	if err != nil {
		t.Fatalf("raw dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	raw, _ := remote.EncodeEnvelope(remote.Envelope{Type: remote.MessageHello, Proto: "v9.0.0"})
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read hello reply: %v", err)
	}
	var env remote.Envelope
	if err := remote.DecodeEnvelope(reply, &env); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if env.Error == "" {
		t.Errorf("hub accepted protocol v9.0.0, want rejection")
	}
}
