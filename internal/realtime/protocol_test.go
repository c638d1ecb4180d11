package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	"github.com/google/uuid"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	return &Hub{
		log:      logger.New("development"),
		sessions: make(map[string]*Session),
	}
}

func attachSession(h *Hub, authenticated bool) *Session {
	s := newSession(nil, h, uuid.Nil, authenticated)
	h.sessions[s.id] = s
	return s
}

func readFrame(t *testing.T, s *Session) *Envelope {
	t.Helper()
	select {
	case raw := <-s.send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("frame is not valid JSON: %v", err)
		}
		return &env
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestReplyToReusesRequestID(t *testing.T) {
	env, err := replyTo("req-42", TypeResponse, ResponsePayload{Resource: "users", Action: "get_all"})
	if err != nil {
		t.Fatalf("replyTo: %v", err)
	}
	if env.ID != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", env.ID)
	}

	fresh, err := replyTo("", TypeEvent, nil)
	if err != nil {
		t.Fatalf("replyTo: %v", err)
	}
	if fresh.ID == "" {
		t.Fatal("expected a generated id for event frames")
	}
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	h := testHub(t)
	s := attachSession(h, true)

	h.dispatch(s, &Envelope{Type: "telemetry", ID: "f-1"})

	frame := readFrame(t, s)
	if frame.Type != TypeError {
		t.Fatalf("expected error frame, got %s", frame.Type)
	}
	var p ErrorPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != CodeUnknownType {
		t.Fatalf("expected %s, got %s", CodeUnknownType, p.Code)
	}
	if frame.ID != "f-1" {
		t.Fatalf("expected error to correlate with the request id, got %q", frame.ID)
	}
}

func TestSubscribeScopesPublicSession(t *testing.T) {
	h := testHub(t)
	s := attachSession(h, false)

	userID := uuid.New()
	convID := uuid.New()

	if s.wants(userID, convID) {
		t.Fatal("public session should see nothing before subscribing")
	}

	payload, _ := json.Marshal(SubscribePayload{ConversationID: &convID})
	h.dispatch(s, &Envelope{Type: TypeSubscribe, ID: "s-1", Payload: payload})

	if frame := readFrame(t, s); frame.Type != TypeSubscribed {
		t.Fatalf("expected subscribed ack, got %s", frame.Type)
	}
	if !s.wants(uuid.Nil, convID) {
		t.Fatal("expected subscription to the conversation")
	}
	if s.wants(userID, uuid.New()) {
		t.Fatal("unrelated scopes must stay invisible")
	}

	h.dispatch(s, &Envelope{Type: TypeUnsubscribe, ID: "s-2", Payload: payload})
	if frame := readFrame(t, s); frame.Type != TypeUnsubscribed {
		t.Fatalf("expected unsubscribed ack, got %s", frame.Type)
	}
	if s.wants(uuid.Nil, convID) {
		t.Fatal("expected subscription to be removed")
	}
}

func TestBroadcastScope(t *testing.T) {
	h := testHub(t)
	operator := attachSession(h, true)
	public := attachSession(h, false)

	convID := uuid.New()
	h.broadcast("conversations.message.created", uuid.Nil, convID, map[string]string{"hello": "world"})

	if frame := readFrame(t, operator); frame.Type != TypeEvent {
		t.Fatalf("operator session should receive the event, got %s", frame.Type)
	}
	select {
	case <-public.send:
		t.Fatal("unsubscribed public session must not receive events")
	default:
	}

	public.subscribe(SubscribePayload{ConversationID: &convID})
	h.broadcast("conversations.message.created", uuid.Nil, convID, nil)
	if frame := readFrame(t, public); frame.Type != TypeEvent {
		t.Fatalf("subscribed public session should receive the event, got %s", frame.Type)
	}
}

func TestEnqueueDropsWhenSaturated(t *testing.T) {
	h := testHub(t)
	s := attachSession(h, true)

	for i := 0; i < sendBuffer; i++ {
		s.send <- []byte("{}")
	}

	s.enqueue([]byte(`{"type":"event"}`))
	if len(s.send) != sendBuffer {
		t.Fatalf("expected buffer to stay at capacity, got %d", len(s.send))
	}

	// A session saturated past the timeout is closed and forgotten.
	s.mu.Lock()
	s.saturatedSince = time.Now().Add(-saturationTimeout - time.Second)
	s.mu.Unlock()
	s.enqueue([]byte(`{"type":"event"}`))
	if !s.closed {
		t.Fatal("expected the saturated session to be closed")
	}
	if h.SessionCount() != 0 {
		t.Fatalf("expected the session to leave the registry, got %d", h.SessionCount())
	}
}

func TestEnqueueAfterDropIsSafe(t *testing.T) {
	h := testHub(t)
	s := attachSession(h, true)

	h.drop(s)
	h.drop(s)

	// The send channel is closed; enqueue must notice and never write to it.
	s.enqueue([]byte(`{"type":"event"}`))

	if _, ok := <-s.send; ok {
		t.Fatal("expected the send channel to be closed and empty")
	}
	if h.SessionCount() != 0 {
		t.Fatalf("expected no registered sessions, got %d", h.SessionCount())
	}
}

func TestLagFrameShape(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(lagFrame(), &env); err != nil {
		t.Fatalf("lag frame is not a valid envelope: %v", err)
	}
	if env.Type != TypeLag {
		t.Fatalf("expected a %s frame, got %s", TypeLag, env.Type)
	}
	var p LagPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("invalid lag payload: %v", err)
	}
	if p.Message == "" {
		t.Fatal("lag payload must explain the drop")
	}
}

func TestErrorFrameMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{apperr.NotFound("no such meeting"), CodeNotFound},
		{apperr.Validation("bad date"), CodeBadPayload},
		{apperr.Unauthorized("token required"), CodeUnauthorized},
		{unknownAction(RequestPayload{Resource: "users", Action: "purge"}), CodeUnknownAction},
		{apperr.Internal("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if code, _ := errorFrame(tc.err); code != tc.code {
			t.Fatalf("error %v: expected code %s, got %s", tc.err, tc.code, code)
		}
	}
}

func TestMutationsRequireAuthentication(t *testing.T) {
	d := &Dispatcher{log: logger.New("development")}
	s := newSession(nil, testHub(t), uuid.Nil, false)

	_, err := d.route(t.Context(), s, RequestPayload{Resource: "messages", Action: "create"})
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	_, err = d.route(t.Context(), s, RequestPayload{Resource: "inventory", Action: "get_all"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected unknown resource to map to not found, got %v", err)
	}
}
