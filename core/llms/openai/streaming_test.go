package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/lito/core/llms"
)

type fakeAssistantsServer struct {
	t *testing.T

	mu           sync.Mutex
	messages     []string
	runRequests  []runRequest
	cancelledRun string
	// runs holds the server side status of every run by id.
	runs     map[string]string
	runOrder []string
	// pendingPolls counts the status polls a cancelling run answers before
	// it becomes cancelled.
	pendingPolls map[string]int
	rejected     int

	cancelOnce sync.Once
	cancelled  chan struct{}
	// streamRun writes the SSE body of a run and returns the run's status
	// once the body ends.
	streamRun func(w http.ResponseWriter, r *http.Request) string
}

func newFakeAssistantsServer(t *testing.T, streamRun func(w http.ResponseWriter, r *http.Request) string) (*fakeAssistantsServer, *httptest.Server) {
	fake := &fakeAssistantsServer{
		t:            t,
		streamRun:    streamRun,
		cancelled:    make(chan struct{}),
		runs:         make(map[string]string),
		pendingPolls: make(map[string]int),
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (s *fakeAssistantsServer) activeRunLocked() string {
	for _, id := range s.runOrder {
		if isActiveRunStatus(s.runs[id]) {
			return id
		}
	}
	return ""
}

func (s *fakeAssistantsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
		s.t.Errorf("missing assistants beta header, got %q", got)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
		s.t.Errorf("unexpected authorization header %q", got)
	}

	switch {
	case r.URL.Path == "/threads":
		fmt.Fprint(w, `{"id":"thread_new","object":"thread"}`)

	case r.URL.Path == "/threads/thread_1/messages":
		var msg messageRequest
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			s.t.Errorf("failed to decode message: %v", err)
		}
		s.mu.Lock()
		if active := s.activeRunLocked(); active != "" {
			s.rejected++
			s.mu.Unlock()
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":{"message":"Can't add messages to thread_1 while a run %s is active.","type":"invalid_request_error"}}`, active)
			return
		}
		s.messages = append(s.messages, msg.Content)
		s.mu.Unlock()
		fmt.Fprint(w, `{"id":"msg_1"}`)

	case r.URL.Path == "/threads/thread_1/runs" && r.Method == http.MethodGet:
		s.mu.Lock()
		var runs runList
		for i := len(s.runOrder) - 1; i >= 0; i-- {
			id := s.runOrder[i]
			runs.Data = append(runs.Data, runObject{ID: id, Status: s.runs[id]})
		}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(runs)

	case r.URL.Path == "/threads/thread_1/runs":
		var run runRequest
		if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
			s.t.Errorf("failed to decode run: %v", err)
		}
		s.mu.Lock()
		s.runRequests = append(s.runRequests, run)
		id := fmt.Sprintf("run_%d", len(s.runRequests))
		s.runs[id] = "in_progress"
		s.runOrder = append(s.runOrder, id)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		status := s.streamRun(w, r)

		s.mu.Lock()
		if s.runs[id] == "in_progress" {
			s.runs[id] = status
		}
		s.mu.Unlock()

	case strings.HasSuffix(r.URL.Path, "/cancel"):
		id := strings.Split(r.URL.Path, "/")[4]
		s.mu.Lock()
		status := s.runs[id]
		if !isActiveRunStatus(status) {
			s.mu.Unlock()
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":{"message":"Cannot cancel run with status '%s'."}}`, status)
			return
		}
		s.cancelledRun = id
		s.runs[id] = "cancelling"
		s.pendingPolls[id] = 2
		s.mu.Unlock()
		s.cancelOnce.Do(func() { close(s.cancelled) })
		fmt.Fprintf(w, `{"id":%q,"status":"cancelling"}`, id)

	case strings.HasPrefix(r.URL.Path, "/threads/thread_1/runs/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(r.URL.Path, "/threads/thread_1/runs/")
		s.mu.Lock()
		status, ok := s.runs[id]
		if status == "cancelling" {
			if s.pendingPolls[id] == 0 {
				s.runs[id] = "cancelled"
			} else {
				s.pendingPolls[id]--
			}
		}
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"status":%q}`, id, status)

	default:
		http.NotFound(w, r)
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func textDelta(text string) string {
	return fmt.Sprintf(`{"id":"msg_1","object":"thread.message.delta","delta":{"content":[{"index":0,"type":"text","text":{"value":%q}}]}}`, text)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(
		WithAPIKey("test-key"),
		WithAssistantID("asst_1"),
		WithBaseURL(baseURL),
		WithHTTPClient(http.DefaultClient),
		withRunPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestStreamReplyYieldsTextDeltas(t *testing.T) {
	fake, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, _ *http.Request) string {
		writeEvent(w, "thread.run.created", `{"id":"run_1","status":"queued"}`)
		writeEvent(w, "thread.message.delta", textDelta("I like blue! What ab"))
		writeEvent(w, "thread.message.delta", textDelta("out you?"))
		writeEvent(w, "thread.run.completed", `{"id":"run_1","status":"completed"}`)
		writeEvent(w, "done", "[DONE]")
		return "completed"
	})
	client := newTestClient(t, server.URL)

	var deltas []string
	for delta, err := range client.StreamReply(context.Background(), "thread_1", "What's your favorite color?") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		deltas = append(deltas, delta)
	}

	if got := strings.Join(deltas, "|"); got != "I like blue! What ab|out you?" {
		t.Fatalf("unexpected deltas %q", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.messages) != 1 || fake.messages[0] != "What's your favorite color?" {
		t.Fatalf("unexpected thread messages %v", fake.messages)
	}
	if len(fake.runRequests) != 1 {
		t.Fatalf("expected one run, got %d", len(fake.runRequests))
	}
	run := fake.runRequests[0]
	if run.AssistantID != "asst_1" || !run.Stream || run.Instructions != llms.DefaultInstructions {
		t.Fatalf("unexpected run request %+v", run)
	}
	if fake.cancelledRun != "" {
		t.Fatalf("expected completed run not to be cancelled")
	}
}

func TestStreamReplyUsesPromptInstructions(t *testing.T) {
	fake, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, _ *http.Request) string {
		writeEvent(w, "done", "[DONE]")
		return "completed"
	})
	client := newTestClient(t, server.URL)

	for range client.StreamReply(context.Background(), "thread_1", "hi", llms.WithInstructions("be brief")) {
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if got := fake.runRequests[0].Instructions; got != "be brief" {
		t.Fatalf("expected prompt instructions, got %q", got)
	}
}

func TestStreamReplyCancelsAbandonedRun(t *testing.T) {
	fake, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, r *http.Request) string {
		writeEvent(w, "thread.run.created", `{"id":"run_1","status":"queued"}`)
		writeEvent(w, "thread.message.delta", textDelta("Once upon"))
		<-r.Context().Done()
		return "in_progress"
	})
	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gotErr error
	for delta, err := range client.StreamReply(ctx, "thread_1", "tell me a story") {
		if err != nil {
			gotErr = err
			break
		}
		if delta == "Once upon" {
			cancel()
		}
	}

	if gotErr != nil {
		t.Fatalf("expected cancellation to end silently, got %v", gotErr)
	}
	select {
	case <-fake.cancelled:
	case <-time.After(time.Second):
		t.Fatalf("expected the run to be cancelled server side")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.cancelledRun != "run_1" {
		t.Fatalf("expected run_1 to be cancelled, got %q", fake.cancelledRun)
	}
	if status := fake.runs["run_1"]; status != "cancelled" {
		t.Fatalf("expected the reply to return once the run settled, got status %q", status)
	}
}

// Adding a message to a thread fails while one of its runs is still active,
// so an interrupted reply must not return before its run settled.
func TestStreamReplyAfterInterruptedReply(t *testing.T) {
	var calls atomic.Int32
	fake, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, r *http.Request) string {
		if calls.Add(1) == 1 {
			writeEvent(w, "thread.run.created", `{"id":"run_1","status":"queued"}`)
			writeEvent(w, "thread.message.delta", textDelta("Once upon"))
			<-r.Context().Done()
			return "in_progress"
		}
		writeEvent(w, "thread.run.created", `{"id":"run_2","status":"queued"}`)
		writeEvent(w, "thread.message.delta", textDelta("Sure, blue."))
		writeEvent(w, "thread.run.completed", `{"id":"run_2","status":"completed"}`)
		return "completed"
	})
	client := newTestClient(t, server.URL)

	for delta, err := range client.StreamReply(context.Background(), "thread_1", "tell me a story") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if delta == "Once upon" {
			break
		}
	}

	var reply strings.Builder
	for delta, err := range client.StreamReply(context.Background(), "thread_1", "what's your favorite color?") {
		if err != nil {
			t.Fatalf("expected the next reply to be accepted, got %v", err)
		}
		reply.WriteString(delta)
	}

	if reply.String() != "Sure, blue." {
		t.Fatalf("unexpected reply %q", reply.String())
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.rejected != 0 {
		t.Fatalf("expected no message to be rejected, got %d", fake.rejected)
	}
	if fake.runs["run_1"] != "cancelled" {
		t.Fatalf("expected the interrupted run to be cancelled, got %q", fake.runs["run_1"])
	}
}

func TestStreamReplyStopsRunInterruptedBeforeCreatedEvent(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	fake, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, r *http.Request) string {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			close(started)
			<-r.Context().Done()
			return "in_progress"
		}
		writeEvent(w, "thread.message.delta", textDelta("Hello again."))
		writeEvent(w, "done", "[DONE]")
		return "completed"
	})
	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	for _, err := range client.StreamReply(ctx, "thread_1", "hi") {
		if err != nil {
			t.Fatalf("expected cancellation to end silently, got %v", err)
		}
	}

	fake.mu.Lock()
	cancelledRun, status := fake.cancelledRun, fake.runs["run_1"]
	fake.mu.Unlock()
	if cancelledRun != "run_1" || status != "cancelled" {
		t.Fatalf("expected the unnamed run to be found and cancelled, got %q with status %q", cancelledRun, status)
	}

	for _, err := range client.StreamReply(context.Background(), "thread_1", "hello?") {
		if err != nil {
			t.Fatalf("expected the next reply to be accepted, got %v", err)
		}
	}
}

func TestStreamReplyReportsFailedRun(t *testing.T) {
	_, server := newFakeAssistantsServer(t, func(w http.ResponseWriter, _ *http.Request) string {
		writeEvent(w, "thread.run.created", `{"id":"run_1","status":"queued"}`)
		writeEvent(w, "thread.run.failed", `{"id":"run_1","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"slow down"}}`)
		return "failed"
	})
	client := newTestClient(t, server.URL)

	var gotErr error
	for _, err := range client.StreamReply(context.Background(), "thread_1", "hi") {
		if err != nil {
			gotErr = err
		}
	}

	if gotErr == nil || !strings.Contains(gotErr.Error(), "slow down") {
		t.Fatalf("expected run failure, got %v", gotErr)
	}
}

func TestStreamReplyReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()
	client := newTestClient(t, server.URL)

	var gotErr error
	for _, err := range client.StreamReply(context.Background(), "thread_1", "hi") {
		gotErr = err
	}

	if gotErr == nil || !strings.Contains(gotErr.Error(), "bad key") {
		t.Fatalf("expected http failure with api message, got %v", gotErr)
	}
}

func TestCreateThread(t *testing.T) {
	_, server := newFakeAssistantsServer(t, nil)
	client := newTestClient(t, server.URL)

	threadID, err := client.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threadID != "thread_new" {
		t.Fatalf("unexpected thread id %q", threadID)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_ASSISTANT_ID", "")

	if _, err := NewClient(WithAssistantID("asst_1")); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if _, err := NewClient(WithAPIKey("key")); err == nil {
		t.Fatalf("expected missing assistant id error")
	}
}
