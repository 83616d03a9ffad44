package botchat

import (
	"context"
	"time"
)

const (
	defaultWatchAttempts = 15
	defaultWatchInterval = 1500 * time.Millisecond
)

// AwaitReply polls the active conversation at a fixed interval until the
// newest renderable message is an incoming (bot) message whose id was not in
// seen, or until the attempt budget runs out. A nil message with a nil error
// means the budget was exhausted; the reply is presumed lost or delayed.
//
// Per-tick fetch failures are swallowed: ListMessages degrades to an empty
// page and the watch simply keeps going. Cancel via ctx when the caller goes
// away or a newer send supersedes this watch.
//
// Detection is best-effort. There is no acknowledgement protocol on the
// backend, so a bot reply that races the snapshot can be missed or
// double-counted across watches.
func (c *Client) AwaitReply(ctx context.Context, seen map[string]struct{}, onPage func([]Message)) (*Message, error) {
	ticker := time.NewTicker(c.watchInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.watchAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		page := c.ListMessages(ctx, "")
		msgs := OldestFirst(FilterRenderable(page.Messages))
		if len(msgs) == 0 {
			continue
		}
		if onPage != nil {
			onPage(msgs)
		}

		last := msgs[len(msgs)-1]
		if last.Direction != DirectionIncoming {
			continue
		}
		if _, ok := seen[last.ID]; ok {
			continue
		}
		return &last, nil
	}
	return nil, nil
}
