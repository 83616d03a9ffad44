package chat

import (
	"fmt"
	"time"

	"github.com/pinkypill/pocket-backend/internal/botchat"
)

// BuildTranscript turns a raw message page into display order: payloads
// without usable text are dropped, oldest message first.
func BuildTranscript(page botchat.MessagePage) []botchat.Message {
	return botchat.OldestFirst(botchat.FilterRenderable(page.Messages))
}

// PendingMessage is the optimistic local echo of a just-sent user message.
// It carries a temporary id and is replaced wholesale by the next full
// transcript fetch, not merged item by item.
func PendingMessage(internalUserID, text string) botchat.Message {
	return botchat.Message{
		ID:        fmt.Sprintf("temp-%d", time.Now().UnixMilli()),
		Payload:   botchat.Payload{Type: "text", Text: text},
		UserID:    internalUserID,
		Direction: botchat.DirectionOutgoing,
		CreatedAt: time.Now().UTC(),
	}
}

// IsPending reports whether a message is a local optimistic echo.
func IsPending(m botchat.Message) bool {
	return len(m.ID) > 5 && m.ID[:5] == "temp-"
}
