package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/workspace-hub/backend/internal/db"
	"github.com/workspace-hub/backend/internal/model"
	"github.com/workspace-hub/backend/internal/repository"
	"github.com/workspace-hub/backend/internal/store"
	"github.com/workspace-hub/backend/internal/task"
)

// gatewayFixture wires a full gateway over an in-memory database and a
// temporary projects directory.
type gatewayFixture struct {
	handler     *Handler
	store       *store.Store
	registry    *Registry
	dispatcher  *Dispatcher
	projectsDir string
}

func newTestGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	st := store.NewStore(repository.NewProjectRepository(testDB))
	registry := NewRegistry()
	t.Cleanup(registry.Close)

	dispatcher := NewDispatcher(st, registry)
	projectsDir := t.TempDir()
	opencode := task.NewOpenCode(filepath.Join(projectsDir, "opencode-not-installed"))
	runner := task.NewRunner(projectsDir, opencode, dispatcher)

	ctx := context.Background()
	if err := st.CreateProject(ctx, "alpha"); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	if err := st.CreateWorkspace(ctx, "alpha", "dev"); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	if err := st.CreateWorkspace(ctx, "alpha", "ops"); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(projectsDir, "alpha"), 0755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}

	return &gatewayFixture{
		handler:     NewHandler(st, dispatcher, runner),
		store:       st,
		registry:    registry,
		dispatcher:  dispatcher,
		projectsDir: projectsDir,
	}
}

// receivedFrame decodes the fields tests care about.
type receivedFrame struct {
	Type      string          `json:"type"`
	Project   string          `json:"project"`
	Workspace string          `json:"workspace"`
	Messages  []model.Message `json:"messages"`
	Message   json.RawMessage `json:"message"`
}

func decodeFrame(t *testing.T, data []byte) receivedFrame {
	t.Helper()
	var frame receivedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame %s: %v", data, err)
	}
	return frame
}

func (f receivedFrame) body(t *testing.T) model.Message {
	t.Helper()
	var msg model.Message
	if err := json.Unmarshal(f.Message, &msg); err != nil {
		t.Fatalf("failed to decode message payload %s: %v", f.Message, err)
	}
	return msg
}

func sendFrame(t *testing.T, f *gatewayFixture, c *connection, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	f.handler.handleFrame(c, raw)
}

func joinWorkspace(t *testing.T, f *gatewayFixture, workspace string) *connection {
	t.Helper()
	c := &connection{client: NewClient(nil)}
	sendFrame(t, f, c, map[string]any{"type": "join", "project": "alpha", "workspace": workspace})

	frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if frame.Type != "history" {
		t.Fatalf("expected history frame, got %s", frame.Type)
	}
	return c
}

func TestRequestsBeforeJoinRejected(t *testing.T) {
	f := newTestGateway(t)

	for _, frameType := range []string{"chat", "task"} {
		c := &connection{client: NewClient(nil)}
		sendFrame(t, f, c, map[string]any{
			"type": frameType, "project": "alpha", "workspace": "dev",
			"message": "hello", "command": "echo hello",
		})

		frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
		if frame.Type != "error" {
			t.Errorf("%s before join: expected error frame, got %s", frameType, frame.Type)
		}
	}

	if got := f.store.Messages("alpha", "dev"); len(got) != 0 {
		t.Errorf("rejected requests must not touch the log, found %d messages", len(got))
	}
}

func TestJoinUnknownWorkspace(t *testing.T) {
	f := newTestGateway(t)

	cases := []map[string]any{
		{"type": "join", "project": "ghost", "workspace": "dev"},
		{"type": "join", "project": "alpha", "workspace": "ghost"},
		{"type": "join", "project": "", "workspace": ""},
	}
	for _, req := range cases {
		c := &connection{client: NewClient(nil)}
		sendFrame(t, f, c, req)

		frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
		if frame.Type != "error" {
			t.Errorf("join %v: expected error frame, got %s", req, frame.Type)
		}
		if c.key != "" {
			t.Errorf("join %v: connection must stay unsubscribed", req)
		}
	}
}

func TestJoinReplaysHistoryThenLive(t *testing.T) {
	f := newTestGateway(t)
	ctx := context.Background()

	first := model.NewMessage(model.SenderUser, model.KindChat, "earlier")
	second := model.NewMessage(model.SenderSystem, model.KindInfo, "also earlier")
	f.store.Append(ctx, "alpha", "dev", first)
	f.store.Append(ctx, "alpha", "dev", second)

	c := &connection{client: NewClient(nil)}
	sendFrame(t, f, c, map[string]any{"type": "join", "project": "alpha", "workspace": "dev"})

	history := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if history.Type != "history" {
		t.Fatalf("expected history frame, got %s", history.Type)
	}
	if len(history.Messages) != 2 || history.Messages[0].ID != first.ID || history.Messages[1].ID != second.ID {
		t.Fatalf("history mismatch: %v", history.Messages)
	}

	// A message delivered after the join arrives live, after history.
	live := model.NewMessage(model.SenderUser, model.KindChat, "live")
	f.dispatcher.Deliver("chat", "alpha", "dev", live)

	frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if frame.Type != "chat" || frame.body(t).ID != live.ID {
		t.Errorf("expected live chat frame, got %s", frame.Type)
	}
}

func TestChatBroadcastsToAllSubscribers(t *testing.T) {
	f := newTestGateway(t)

	sender := joinWorkspace(t, f, "dev")
	viewer := joinWorkspace(t, f, "dev")

	sendFrame(t, f, sender, map[string]any{
		"type": "chat", "project": "alpha", "workspace": "dev", "message": "hello all",
	})

	for _, c := range []*connection{sender, viewer} {
		frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
		if frame.Type != "chat" {
			t.Fatalf("expected chat frame, got %s", frame.Type)
		}
		msg := frame.body(t)
		if msg.Sender != model.SenderUser || msg.Kind != model.KindChat || msg.Content != "hello all" {
			t.Errorf("unexpected chat message: %+v", msg)
		}
	}

	got := f.store.Messages("alpha", "dev")
	if len(got) != 1 || got[0].Content != "hello all" {
		t.Errorf("chat not appended to log: %v", got)
	}
}

func TestChatOtherWorkspaceRejected(t *testing.T) {
	f := newTestGateway(t)

	c := joinWorkspace(t, f, "dev")
	sendFrame(t, f, c, map[string]any{
		"type": "chat", "project": "alpha", "workspace": "ops", "message": "wrong room",
	})

	frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if frame.Type != "error" {
		t.Errorf("expected error frame, got %s", frame.Type)
	}
	if len(f.store.Messages("alpha", "ops")) != 0 {
		t.Error("rejected chat must not touch the log")
	}
}

func TestJoinMovesSubscription(t *testing.T) {
	f := newTestGateway(t)

	c := joinWorkspace(t, f, "dev")
	sendFrame(t, f, c, map[string]any{"type": "join", "project": "alpha", "workspace": "ops"})

	frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if frame.Type != "history" {
		t.Fatalf("expected history for ops, got %s", frame.Type)
	}

	// The old key lost its only subscriber and was discarded.
	if f.registry.Subscribers(Key("alpha", "dev")) != 0 {
		t.Error("expected dev subscription to be dropped")
	}

	f.dispatcher.Deliver("chat", "alpha", "dev", model.NewMessage(model.SenderUser, model.KindChat, "stale"))
	expectNothing(t, c.client, 50*time.Millisecond)
}

func TestMalformedFrameDropped(t *testing.T) {
	f := newTestGateway(t)

	c := &connection{client: NewClient(nil)}
	f.handler.handleFrame(c, []byte("this is not json"))
	f.handler.handleFrame(c, []byte(`{"type": 42}`))

	expectNothing(t, c.client, 50*time.Millisecond)
	if len(f.store.Messages("alpha", "dev")) != 0 {
		t.Error("malformed frames must not touch the log")
	}
}

func TestEmptyChatAndCommandIgnored(t *testing.T) {
	f := newTestGateway(t)

	c := joinWorkspace(t, f, "dev")
	sendFrame(t, f, c, map[string]any{"type": "chat", "project": "alpha", "workspace": "dev", "message": ""})
	sendFrame(t, f, c, map[string]any{"type": "task", "project": "alpha", "workspace": "dev", "command": ""})

	expectNothing(t, c.client, 50*time.Millisecond)
	if len(f.store.Messages("alpha", "dev")) != 0 {
		t.Error("empty requests must not touch the log")
	}
}

// collectUntilResult drains frames for one connection until the
// terminal result frame arrives.
func collectUntilResult(t *testing.T, c *connection, deadline time.Duration) []receivedFrame {
	t.Helper()

	var frames []receivedFrame
	timeout := time.After(deadline)
	for {
		select {
		case data := <-c.client.SendChan():
			frame := decodeFrame(t, data)
			frames = append(frames, frame)
			if frame.Type == "result" {
				return frames
			}
		case <-timeout:
			t.Fatalf("no result frame within %v; got %v", deadline, frames)
		}
	}
}

func TestTaskExecutesAndStreams(t *testing.T) {
	f := newTestGateway(t)

	c := joinWorkspace(t, f, "dev")
	sendFrame(t, f, c, map[string]any{
		"type": "task", "project": "alpha", "workspace": "dev", "command": "echo hello",
	})

	frames := collectUntilResult(t, c, 5*time.Second)

	if frames[0].Type != "task" {
		t.Fatalf("expected task echo first, got %s", frames[0].Type)
	}
	if echo := frames[0].body(t); echo.Sender != model.SenderUser || echo.Kind != model.KindTask || echo.Content != "echo hello" {
		t.Errorf("unexpected task echo: %+v", echo)
	}

	if frames[1].Type != "info" {
		t.Fatalf("expected info announcement, got %s", frames[1].Type)
	}

	var sawOutput bool
	for _, frame := range frames[2 : len(frames)-1] {
		if frame.Type == "output" && frame.body(t).Content == "hello" {
			sawOutput = true
		}
	}
	if !sawOutput {
		t.Errorf("expected an output frame containing hello, got %v", frames)
	}

	result := frames[len(frames)-1].body(t)
	if result.Kind != model.KindInfo || result.Content != "Command finished with exit code 0." {
		t.Errorf("unexpected result message: %+v", result)
	}

	// The log holds the same sequence the connection observed.
	logged := f.store.Messages("alpha", "dev")
	if len(logged) != len(frames) {
		t.Errorf("log has %d messages, connection saw %d frames", len(logged), len(frames))
	}
}

func TestTaskWithUnavailableWrapper(t *testing.T) {
	f := newTestGateway(t)

	c := joinWorkspace(t, f, "dev")
	sendFrame(t, f, c, map[string]any{
		"type": "task", "project": "alpha", "workspace": "dev",
		"command": "echo hello", "useOpenCode": true,
	})

	// Task echo, then a single error; no info, output, or result.
	first := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
	if first.Type != "task" {
		t.Fatalf("expected task echo, got %s", first.Type)
	}

	second := decodeFrame(t, receiveWithTimeout(t, c.client, 2*time.Second))
	if second.Type != "error" {
		t.Fatalf("expected error frame, got %s", second.Type)
	}
	if msg := second.body(t); msg.Sender != model.SenderSystem || msg.Kind != model.KindError {
		t.Errorf("unexpected error message: %+v", msg)
	}

	expectNothing(t, c.client, 100*time.Millisecond)
}

func TestConcurrentChatsKeepOneOrder(t *testing.T) {
	f := newTestGateway(t)

	a := joinWorkspace(t, f, "dev")
	b := joinWorkspace(t, f, "dev")

	const perSender = 20
	done := make(chan struct{}, 2)
	send := func(c *connection, tag string) {
		for i := 0; i < perSender; i++ {
			sendFrame(t, f, c, map[string]any{
				"type": "chat", "project": "alpha", "workspace": "dev",
				"message": fmt.Sprintf("%s-%d", tag, i),
			})
		}
		done <- struct{}{}
	}
	go send(a, "a")
	go send(b, "b")
	<-done
	<-done

	order := func(c *connection) []string {
		ids := make([]string, 0, 2*perSender)
		for i := 0; i < 2*perSender; i++ {
			frame := decodeFrame(t, receiveWithTimeout(t, c.client, time.Second))
			ids = append(ids, frame.body(t).ID)
		}
		return ids
	}

	seenByA := order(a)
	seenByB := order(b)
	logged := f.store.Messages("alpha", "dev")

	if len(logged) != 2*perSender {
		t.Fatalf("expected %d logged messages, got %d", 2*perSender, len(logged))
	}
	for i := range logged {
		if seenByA[i] != logged[i].ID || seenByB[i] != logged[i].ID {
			t.Fatalf("delivery order diverges from log order at position %d", i)
		}
	}
}
