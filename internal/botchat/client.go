// Package botchat brokers all interaction with the hosted conversational-AI
// backend. It hides the session bootstrap (per-user key registration and
// caching) and the clear-and-retry-once recovery from authorization failures
// behind a small typed client.
package botchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotInitialized is returned by operations that need a session key or an
// active conversation before either could be established.
var ErrNotInitialized = errors.New("botchat: session not initialized")

// APIError is a non-2xx reply from the chat backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("botchat: status %d", e.StatusCode)
	}
	return fmt.Sprintf("botchat: status %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is a 401/403 from the chat backend,
// meaning the cached session key is dead.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// IsConflict reports whether err is a 409, i.e. the external id is already
// registered remotely.
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusConflict
}

type Config struct {
	// ChatBaseURL is the chat API root, e.g. https://chat.botpress.cloud.
	ChatBaseURL string
	// APIBaseURL is the management API root, e.g. https://api.botpress.cloud.
	APIBaseURL string
	ClientID   string
	BotID      string

	Store      KeyStore
	HTTPClient *http.Client

	// Reply-watch budget. Zero values take the defaults.
	WatchAttempts int
	WatchInterval time.Duration
}

type identity struct {
	externalID string
	profile    *Profile
}

// bootstrap is the shared in-flight CreateUser attempt. Concurrent callers
// join it instead of racing a second registration.
type bootstrap struct {
	done chan struct{}
	res  BootstrapResult
	err  error
}

type Client struct {
	chatURL       string
	apiURL        string
	botID         string
	http          *http.Client
	store         KeyStore
	watchAttempts int
	watchInterval time.Duration

	mu             sync.Mutex
	userKey        string
	internalUserID string
	conversationID string
	identity       *identity
	inflight       *bootstrap
}

func NewClient(cfg Config) *Client {
	if cfg.ChatBaseURL == "" {
		cfg.ChatBaseURL = "https://chat.botpress.cloud"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.botpress.cloud"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryKeyStore()
	}
	if cfg.WatchAttempts <= 0 {
		cfg.WatchAttempts = defaultWatchAttempts
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = defaultWatchInterval
	}
	return &Client{
		chatURL:       strings.TrimRight(cfg.ChatBaseURL, "/") + "/" + cfg.ClientID,
		apiURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		botID:         cfg.BotID,
		http:          cfg.HTTPClient,
		store:         cfg.Store,
		watchAttempts: cfg.WatchAttempts,
		watchInterval: cfg.WatchInterval,
	}
}

// CreateUser is the idempotent session bootstrap. A cached key short-circuits
// remote registration; otherwise the user is registered and the returned key
// persisted. While one bootstrap is in flight, later callers wait on the same
// attempt and share its outcome.
func (c *Client) CreateUser(ctx context.Context, externalID string, profile *Profile) (BootstrapResult, error) {
	c.mu.Lock()
	c.identity = &identity{externalID: externalID, profile: profile}

	if b := c.inflight; b != nil {
		c.mu.Unlock()
		select {
		case <-b.done:
			return b.res, b.err
		case <-ctx.Done():
			return BootstrapResult{}, ctx.Err()
		}
	}

	if c.userKey != "" {
		res := BootstrapResult{ExternalID: externalID, InternalUserID: c.internalUserID}
		c.mu.Unlock()
		return res, nil
	}

	b := &bootstrap{done: make(chan struct{})}
	c.inflight = b
	c.mu.Unlock()

	b.res, b.err = c.doBootstrap(ctx, externalID, profile)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(b.done)

	return b.res, b.err
}

func (c *Client) doBootstrap(ctx context.Context, externalID string, profile *Profile) (BootstrapResult, error) {
	storedKey, err := c.store.Get(ctx, userKeyKey(externalID))
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("botchat: key store: %w", err)
	}
	if storedKey != "" {
		storedID, _ := c.store.Get(ctx, internalIDKey(externalID))
		c.mu.Lock()
		c.userKey = storedKey
		c.internalUserID = storedID
		c.mu.Unlock()
		return BootstrapResult{ExternalID: externalID, InternalUserID: storedID}, nil
	}

	key, internalID, err := c.registerUser(ctx, externalID, profile)
	if IsConflict(err) {
		// The user exists remotely but we lost the local key (reinstall or
		// cache wipe). The backend never re-issues keys, so register a
		// disambiguated identity instead of failing the session outright.
		alias := externalID + "-" + uuid.NewString()[:8]
		log.Printf("[botchat] external id %s already registered, retrying as %s", externalID, alias)
		key, internalID, err = c.registerUser(ctx, alias, profile)
	}
	if err != nil {
		return BootstrapResult{}, err
	}

	c.mu.Lock()
	c.userKey = key
	c.internalUserID = internalID
	c.mu.Unlock()

	if err := c.store.Set(ctx, userKeyKey(externalID), key); err != nil {
		return BootstrapResult{}, fmt.Errorf("botchat: key store: %w", err)
	}
	if internalID != "" {
		_ = c.store.Set(ctx, internalIDKey(externalID), internalID)
	}
	return BootstrapResult{ExternalID: externalID, InternalUserID: internalID, Registered: true}, nil
}

func (c *Client) registerUser(ctx context.Context, externalID string, profile *Profile) (key, internalID string, err error) {
	body := createUserReq{ExternalID: externalID}
	if profile != nil {
		body.Name = profile.Name
		body.Email = profile.Email
		body.AvatarURL = profile.AvatarURL
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL+"/users", bytes.NewReader(b))
	if err != nil {
		return "", "", err
	}
	c.setHeaders(req, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", readAPIError(resp)
	}

	var decoded createUserResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", err
	}

	key = resp.Header.Get("x-user-key")
	if key == "" {
		key = decoded.Key
	}
	if key == "" {
		return "", "", errors.New("botchat: registration returned no user key")
	}
	internalID = decoded.ID
	if decoded.User != nil && decoded.User.ID != "" {
		internalID = decoded.User.ID
	}
	return key, internalID, nil
}

// ensureInitialized resolves a usable session key: it joins an in-flight
// bootstrap if one is running, and re-triggers one from the last known
// identity when the key is missing.
func (c *Client) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	b := c.inflight
	c.mu.Unlock()
	if b != nil {
		select {
		case <-b.done:
			if b.err != nil {
				return b.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	key := c.userKey
	id := c.identity
	c.mu.Unlock()
	if key != "" {
		return nil
	}
	if id == nil {
		return ErrNotInitialized
	}
	_, err := c.CreateUser(ctx, id.externalID, id.profile)
	return err
}

// resetCredentials drops the in-memory key and conversation and the
// persisted copies, forcing the next operation to re-bootstrap.
func (c *Client) resetCredentials(ctx context.Context) {
	c.mu.Lock()
	c.userKey = ""
	c.conversationID = ""
	id := c.identity
	c.mu.Unlock()
	if id != nil {
		_ = c.store.Delete(ctx, userKeyKey(id.externalID))
		_ = c.store.Delete(ctx, lastConvoKey(id.externalID))
	}
}

// ClearSession wipes the session entirely, including the persisted internal
// id. Used on logout.
func (c *Client) ClearSession(ctx context.Context, externalID string) error {
	c.mu.Lock()
	c.userKey = ""
	c.internalUserID = ""
	c.conversationID = ""
	c.identity = nil
	c.mu.Unlock()
	if externalID == "" {
		return nil
	}
	for _, k := range []string{userKeyKey(externalID), internalIDKey(externalID), lastConvoKey(externalID)} {
		if err := c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("botchat: key store: %w", err)
		}
	}
	return nil
}

func (c *Client) InternalUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalUserID
}

func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// SetConversationID switches the active conversation (e.g. picked from the
// sidebar) and remembers it as the last-used one.
func (c *Client) SetConversationID(ctx context.Context, id string) {
	c.mu.Lock()
	c.conversationID = id
	ident := c.identity
	c.mu.Unlock()
	if ident != nil && id != "" {
		_ = c.store.Set(ctx, lastConvoKey(ident.externalID), id)
	}
}

// GetOrStartLastConversation returns the active conversation id, restoring
// the last-used one from the key store or creating a fresh conversation
// when none exists.
func (c *Client) GetOrStartLastConversation(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.conversationID != "" {
		id := c.conversationID
		c.mu.Unlock()
		return id, nil
	}
	ident := c.identity
	c.mu.Unlock()

	if ident != nil {
		last, err := c.store.Get(ctx, lastConvoKey(ident.externalID))
		if err == nil && last != "" {
			c.mu.Lock()
			c.conversationID = last
			c.mu.Unlock()
			return last, nil
		}
	}
	return c.CreateConversation(ctx)
}

// CreateConversation starts a new conversation and makes it the active one.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	key := c.userKey
	c.mu.Unlock()
	if key == "" {
		return "", ErrNotInitialized
	}

	var decoded createConversationResp
	if err := c.doJSON(ctx, http.MethodPost, c.chatURL+"/conversations", key, struct{}{}, &decoded); err != nil {
		if IsAuthError(err) {
			c.mu.Lock()
			c.userKey = ""
			c.mu.Unlock()
		}
		return "", err
	}

	id := decoded.ID
	if decoded.Conversation != nil && decoded.Conversation.ID != "" {
		id = decoded.Conversation.ID
	}
	if id == "" {
		return "", errors.New("botchat: create conversation returned no id")
	}

	c.mu.Lock()
	c.conversationID = id
	ident := c.identity
	c.mu.Unlock()
	if ident != nil {
		_ = c.store.Set(ctx, lastConvoKey(ident.externalID), id)
	}
	return id, nil
}

// DeleteConversation removes a conversation. Deleting the active one clears
// the active id and the stored last-conversation pointer.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.ensureInitialized(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	key := c.userKey
	c.mu.Unlock()
	if key == "" {
		return ErrNotInitialized
	}

	if err := c.doJSON(ctx, http.MethodDelete, c.chatURL+"/conversations/"+id, key, nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	active := c.conversationID == id
	ident := c.identity
	if active {
		c.conversationID = ""
	}
	c.mu.Unlock()
	if active && ident != nil {
		_ = c.store.Delete(ctx, lastConvoKey(ident.externalID))
	}
	return nil
}

// ListConversations returns the user's conversations. The read path is
// tolerant: any failure yields an empty list, with a dead key cleared for
// the next write to recover.
func (c *Client) ListConversations(ctx context.Context) []Conversation {
	if err := c.ensureInitialized(ctx); err != nil {
		return []Conversation{}
	}
	c.mu.Lock()
	key := c.userKey
	c.mu.Unlock()
	if key == "" {
		return []Conversation{}
	}

	var decoded listConversationsResp
	if err := c.doJSON(ctx, http.MethodGet, c.chatURL+"/conversations", key, nil, &decoded); err != nil {
		if IsAuthError(err) {
			c.mu.Lock()
			c.userKey = ""
			c.mu.Unlock()
		}
		return []Conversation{}
	}
	if decoded.Conversations == nil {
		return []Conversation{}
	}
	return decoded.Conversations
}

// SendMessage posts a text message to the active conversation. On an
// authorization failure it clears the cached key and conversation,
// re-bootstraps, and retries exactly once; a second failure propagates.
func (c *Client) SendMessage(ctx context.Context, text string) (*Message, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.ensureInitialized(ctx); err != nil {
			return nil, err
		}
		convoID, err := c.GetOrStartLastConversation(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		key := c.userKey
		c.mu.Unlock()
		if key == "" || convoID == "" {
			return nil, ErrNotInitialized
		}

		var decoded sendMessageResp
		body := sendMessageReq{
			Payload:        Payload{Type: "text", Text: text},
			ConversationID: convoID,
		}
		err = c.doJSON(ctx, http.MethodPost, c.chatURL+"/messages", key, body, &decoded)
		if err == nil {
			return decoded.Message, nil
		}
		if attempt == 0 && IsAuthError(err) {
			log.Printf("[botchat] auth failure on send, clearing session and retrying once")
			c.resetCredentials(ctx)
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// ListMessages fetches one transcript page for the active conversation,
// newest first. The read path never fails: an authorization error triggers
// the usual clear-and-retry-once, and anything else degrades to an empty
// page since callers poll this routinely.
func (c *Client) ListMessages(ctx context.Context, nextToken string) MessagePage {
	empty := MessagePage{Messages: []Message{}}
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.ensureInitialized(ctx); err != nil {
			return empty
		}
		c.mu.Lock()
		key := c.userKey
		convoID := c.conversationID
		c.mu.Unlock()
		if key == "" || convoID == "" {
			return empty
		}

		url := c.chatURL + "/conversations/" + convoID + "/messages"
		if nextToken != "" {
			url += "?nextToken=" + nextToken
		}
		var page MessagePage
		err := c.doJSON(ctx, http.MethodGet, url, key, nil, &page)
		if err == nil {
			if page.Messages == nil {
				page.Messages = []Message{}
			}
			return page
		}
		if attempt == 0 && IsAuthError(err) {
			log.Printf("[botchat] auth failure on list, clearing session and retrying once")
			c.resetCredentials(ctx)
			if err := c.ensureInitialized(ctx); err != nil {
				return empty
			}
			if _, err := c.GetOrStartLastConversation(ctx); err != nil {
				return empty
			}
			continue
		}
		return empty
	}
	return empty
}

// UpdateUser pushes refreshed profile fields to the chat backend. Requires
// an established session; callers treat failures as non-fatal.
func (c *Client) UpdateUser(ctx context.Context, profile Profile) error {
	if err := c.ensureInitialized(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	key := c.userKey
	if c.identity != nil {
		c.identity.profile = &profile
	}
	c.mu.Unlock()

	return c.doJSON(ctx, http.MethodPut, c.chatURL+"/users/me", key, profile, nil)
}

// GetBot fetches the bot descriptor from the management API. Used as a
// reachability probe.
func (c *Client) GetBot(ctx context.Context) (map[string]any, error) {
	var decoded map[string]any
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL+"/v1/chat/bots/"+c.botID, "", nil, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Content-Type", "application/json")
	if c.botID != "" {
		req.Header.Set("x-bot-id", c.botID)
	}
	if key != "" {
		req.Header.Set("x-user-key", key)
	}
}

func (c *Client) doJSON(ctx context.Context, method, url, key string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	c.setHeaders(req, key)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
