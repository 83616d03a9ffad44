package botchat

import "time"

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Profile carries the optional identity fields forwarded to the chat
// backend when a user is registered.
type Profile struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type ChoiceOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Payload is the typed body of a chat message. The backend emits more
// payload kinds than we render; anything without usable text is dropped
// before display.
type Payload struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Options []ChoiceOption `json:"options,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	Payload        Payload   `json:"payload"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Direction      string    `json:"direction"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Renderable reports whether the message carries something the app can
// show: plain text, or a typed text/choice payload.
func (m Message) Renderable() bool {
	if m.Payload.Text != "" {
		return true
	}
	return m.Payload.Type == "text" || m.Payload.Type == "choice"
}

type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessagePage is one page of a conversation transcript, newest first as
// returned by the backend.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Meta     struct {
		NextToken string `json:"nextToken,omitempty"`
	} `json:"meta"`
}

// BootstrapResult reports the identity established by CreateUser.
type BootstrapResult struct {
	ExternalID     string
	InternalUserID string
	Registered     bool
}

// OldestFirst returns a copy of msgs in display order. The wire order is
// newest first.
func OldestFirst(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// FilterRenderable drops messages whose payload has no usable text or type.
func FilterRenderable(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Renderable() {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot collects the ids already present in a transcript, used to
// detect a fresh bot reply while polling.
func Snapshot(msgs []Message) map[string]struct{} {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	return seen
}

// wire shapes

type createUserReq struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

type createUserResp struct {
	Key  string `json:"key,omitempty"`
	ID   string `json:"id,omitempty"`
	User *struct {
		ID string `json:"id"`
	} `json:"user,omitempty"`
}

type createConversationResp struct {
	ID           string        `json:"id,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

type listConversationsResp struct {
	Conversations []Conversation `json:"conversations"`
}

type sendMessageReq struct {
	Payload        Payload `json:"payload"`
	ConversationID string  `json:"conversationId"`
}

type sendMessageResp struct {
	Message *Message `json:"message,omitempty"`
}
