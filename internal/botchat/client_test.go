package botchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeChat emulates the hosted chat backend: user registration issuing
// per-user keys, conversation CRUD and message send/list.
type fakeChat struct {
	mu            sync.Mutex
	registrations int
	sends         int
	conflicts     int // pending 409s for POST /users
	sendFailures  int // pending 403s for POST /messages
	listFailures  int // pending 403s for GET messages
	listStatus    int // non-auth failure status for GET messages, 0 = ok
	registerDelay time.Duration
	nextConvo     int
	updatedName   string
	msgs          []Message // oldest first
}

func (f *fakeChat) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /client-1/users", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.conflicts > 0 {
			f.conflicts--
			f.mu.Unlock()
			http.Error(w, `{"error":"user already exists"}`, http.StatusConflict)
			return
		}
		f.registrations++
		n := f.registrations
		delay := f.registerDelay
		f.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("x-user-key", fmt.Sprintf("key-%d", n))
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{"id": fmt.Sprintf("user_%d", n)},
		})
	})

	mux.HandleFunc("PUT /client-1/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-user-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		var p Profile
		json.NewDecoder(r.Body).Decode(&p)
		f.mu.Lock()
		f.updatedName = p.Name
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})

	mux.HandleFunc("POST /client-1/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-user-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.nextConvo++
		id := fmt.Sprintf("conv-%d", f.nextConvo)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{"id": id},
		})
	})

	mux.HandleFunc("GET /client-1/conversations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{{"id": "conv-1"}},
		})
	})

	mux.HandleFunc("DELETE /client-1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	mux.HandleFunc("POST /client-1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.sendFailures > 0 {
			f.sendFailures--
			f.mu.Unlock()
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		f.sends++
		var req struct {
			Payload        Payload `json:"payload"`
			ConversationID string  `json:"conversationId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		msg := Message{
			ID:             fmt.Sprintf("msg-%d", len(f.msgs)+1),
			Payload:        req.Payload,
			ConversationID: req.ConversationID,
			Direction:      DirectionOutgoing,
			CreatedAt:      time.Now().UTC(),
		}
		f.msgs = append(f.msgs, msg)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"message": msg})
	})

	mux.HandleFunc("GET /client-1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.listFailures > 0 {
			f.listFailures--
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if f.listStatus != 0 {
			http.Error(w, "boom", f.listStatus)
			return
		}
		// wire order is newest first
		out := make([]Message, len(f.msgs))
		for i, m := range f.msgs {
			out[len(f.msgs)-1-i] = m
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": out})
	})

	return mux
}

func (f *fakeChat) appendIncoming(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, Message{
		ID:        fmt.Sprintf("msg-%d", len(f.msgs)+1),
		Payload:   Payload{Type: "text", Text: text},
		Direction: DirectionIncoming,
		CreatedAt: time.Now().UTC(),
	})
}

func newTestClient(t *testing.T, f *fakeChat, store KeyStore) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{
		ChatBaseURL:   srv.URL,
		APIBaseURL:    srv.URL,
		ClientID:      "client-1",
		BotID:         "bot-1",
		Store:         store,
		WatchAttempts: 3,
		WatchInterval: 10 * time.Millisecond,
	})
}

func TestCreateUser_RegistersOnceAndPersistsKey(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	c := newTestClient(t, f, store)

	res, err := c.CreateUser(context.Background(), "ext-1", &Profile{Name: "Queen"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !res.Registered {
		t.Fatalf("expected a fresh registration")
	}
	if res.InternalUserID != "user_1" {
		t.Fatalf("unexpected internal id: %q", res.InternalUserID)
	}
	if f.registrations != 1 {
		t.Fatalf("expected 1 registration, got %d", f.registrations)
	}

	key, _ := store.Get(context.Background(), userKeyKey("ext-1"))
	if key != "key-1" {
		t.Fatalf("expected key persisted, got %q", key)
	}

	// second call is a no-op
	res, err = c.CreateUser(context.Background(), "ext-1", nil)
	if err != nil {
		t.Fatalf("second create user: %v", err)
	}
	if res.Registered || f.registrations != 1 {
		t.Fatalf("expected no second registration, got %d", f.registrations)
	}
}

func TestCreateUser_CachedKeySkipsRegistration(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	store.Set(context.Background(), userKeyKey("ext-1"), "cached-key")
	store.Set(context.Background(), internalIDKey("ext-1"), "user_cached")

	c := newTestClient(t, f, store)
	res, err := c.CreateUser(context.Background(), "ext-1", nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if f.registrations != 0 {
		t.Fatalf("expected 0 registrations, got %d", f.registrations)
	}
	if res.InternalUserID != "user_cached" {
		t.Fatalf("unexpected internal id: %q", res.InternalUserID)
	}
}

func TestCreateUser_ConcurrentCallsShareBootstrap(t *testing.T) {
	f := &fakeChat{registerDelay: 50 * time.Millisecond}
	c := newTestClient(t, f, NewMemoryKeyStore())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([]BootstrapResult, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.CreateUser(context.Background(), "ext-1", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].InternalUserID != results[0].InternalUserID {
			t.Fatalf("caller %d got a different identity: %q vs %q",
				i, results[i].InternalUserID, results[0].InternalUserID)
		}
	}
	if f.registrations != 1 {
		t.Fatalf("expected a single shared registration, got %d", f.registrations)
	}
}

func TestCreateUser_ConflictFallsBackToAlias(t *testing.T) {
	f := &fakeChat{conflicts: 1}
	store := NewMemoryKeyStore()
	c := newTestClient(t, f, store)

	res, err := c.CreateUser(context.Background(), "ext-1", nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !res.Registered {
		t.Fatalf("expected fallback registration to succeed")
	}
	if f.registrations != 1 {
		t.Fatalf("expected 1 successful registration, got %d", f.registrations)
	}
	// the key is cached under the original external id so the next
	// bootstrap hits the cache
	key, _ := store.Get(context.Background(), userKeyKey("ext-1"))
	if key == "" {
		t.Fatalf("expected key cached under original external id")
	}
}

func TestSendMessage_RetriesOnceOnAuthFailure(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	c := newTestClient(t, f, store)

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := c.GetOrStartLastConversation(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	f.mu.Lock()
	f.sendFailures = 1
	f.mu.Unlock()

	msg, err := c.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send after retry: %v", err)
	}
	if msg == nil || msg.Payload.Text != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if f.sends != 1 {
		t.Fatalf("expected exactly 1 accepted send, got %d", f.sends)
	}
	// the dead key was replaced by a fresh registration
	if f.registrations != 2 {
		t.Fatalf("expected re-bootstrap after 403, got %d registrations", f.registrations)
	}
}

func TestSendMessage_SecondAuthFailurePropagates(t *testing.T) {
	f := &fakeChat{}
	c := newTestClient(t, f, NewMemoryKeyStore())

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := c.GetOrStartLastConversation(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	f.mu.Lock()
	f.sendFailures = 2
	f.mu.Unlock()

	_, err := c.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error after second 403")
	}
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if f.sends != 0 {
		t.Fatalf("expected no accepted sends, got %d", f.sends)
	}
}

func TestSendMessage_WithoutIdentityFails(t *testing.T) {
	f := &fakeChat{}
	c := newTestClient(t, f, NewMemoryKeyStore())

	_, err := c.SendMessage(context.Background(), "hello")
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestUpdateUser_PushesProfile(t *testing.T) {
	f := &fakeChat{}
	c := newTestClient(t, f, NewMemoryKeyStore())

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := c.UpdateUser(context.Background(), Profile{Name: "Amy"}); err != nil {
		t.Fatalf("update user: %v", err)
	}
	if f.updatedName != "Amy" {
		t.Fatalf("expected profile pushed, got %q", f.updatedName)
	}
}

func TestUpdateUser_WithoutSessionFails(t *testing.T) {
	f := &fakeChat{}
	c := newTestClient(t, f, NewMemoryKeyStore())

	if err := c.UpdateUser(context.Background(), Profile{Name: "Amy"}); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestListMessages_ErrorsDegradeToEmpty(t *testing.T) {
	f := &fakeChat{listStatus: http.StatusInternalServerError}
	c := newTestClient(t, f, NewMemoryKeyStore())

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := c.GetOrStartLastConversation(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	page := c.ListMessages(context.Background(), "")
	if page.Messages == nil || len(page.Messages) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestListMessages_AuthFailureRetriesThenEmpty(t *testing.T) {
	f := &fakeChat{}
	c := newTestClient(t, f, NewMemoryKeyStore())

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := c.GetOrStartLastConversation(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	f.appendIncoming("hi there")

	// one 403 recovers via re-bootstrap; two degrade to empty
	f.mu.Lock()
	f.listFailures = 1
	f.mu.Unlock()
	page := c.ListMessages(context.Background(), "")
	if len(page.Messages) != 1 {
		t.Fatalf("expected recovered page with 1 message, got %d", len(page.Messages))
	}

	f.mu.Lock()
	f.listFailures = 2
	f.mu.Unlock()
	page = c.ListMessages(context.Background(), "")
	if len(page.Messages) != 0 {
		t.Fatalf("expected empty page after persistent auth failure, got %d", len(page.Messages))
	}
}

func TestDeleteConversation_ClearsActiveOnly(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	c := newTestClient(t, f, store)

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	active, err := c.GetOrStartLastConversation(context.Background())
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if err := c.DeleteConversation(context.Background(), "conv-other"); err != nil {
		t.Fatalf("delete non-active: %v", err)
	}
	if c.ConversationID() != active {
		t.Fatalf("deleting a non-active conversation changed the active id")
	}

	if err := c.DeleteConversation(context.Background(), active); err != nil {
		t.Fatalf("delete active: %v", err)
	}
	if c.ConversationID() != "" {
		t.Fatalf("expected active conversation cleared, got %q", c.ConversationID())
	}
	last, _ := store.Get(context.Background(), lastConvoKey("ext-1"))
	if last != "" {
		t.Fatalf("expected stored last-conversation pointer removed, got %q", last)
	}
}

func TestGetOrStartLastConversation_RestoresStoredID(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	store.Set(context.Background(), userKeyKey("ext-1"), "cached-key")
	store.Set(context.Background(), lastConvoKey("ext-1"), "conv-stored")

	c := newTestClient(t, f, store)
	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}

	id, err := c.GetOrStartLastConversation(context.Background())
	if err != nil {
		t.Fatalf("get or start: %v", err)
	}
	if id != "conv-stored" {
		t.Fatalf("expected stored conversation restored, got %q", id)
	}
	if f.nextConvo != 0 {
		t.Fatalf("expected no new conversation, server created %d", f.nextConvo)
	}
}

func TestClearSession_WipesStoredKeys(t *testing.T) {
	f := &fakeChat{}
	store := NewMemoryKeyStore()
	c := newTestClient(t, f, store)

	if _, err := c.CreateUser(context.Background(), "ext-1", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := c.GetOrStartLastConversation(context.Background()); err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if err := c.ClearSession(context.Background(), "ext-1"); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	for _, k := range []string{userKeyKey("ext-1"), internalIDKey("ext-1"), lastConvoKey("ext-1")} {
		if v, _ := store.Get(context.Background(), k); v != "" {
			t.Fatalf("expected %s removed, got %q", k, v)
		}
	}
	if c.ConversationID() != "" || c.InternalUserID() != "" {
		t.Fatalf("expected in-memory session cleared")
	}

	// a plain send after logout must not silently re-register
	if _, err := c.SendMessage(context.Background(), "hi"); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized after logout, got %v", err)
	}
}

func TestFilterRenderable(t *testing.T) {
	msgs := []Message{
		{ID: "1", Payload: Payload{Type: "text", Text: "hi"}},
		{ID: "2", Payload: Payload{Type: "carousel"}},
		{ID: "3", Payload: Payload{Type: "choice", Options: []ChoiceOption{{Label: "Yes", Value: "yes"}}}},
		{ID: "4", Payload: Payload{Type: "audio", Text: "transcript"}},
	}
	got := FilterRenderable(msgs)
	want := []string{"1", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
