package chat

import (
	"context"
	"sync"

	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/common"
)

// BotSession is one user's brokered session against the chat backend.
// *botchat.Client satisfies it; tests substitute a fake.
type BotSession interface {
	CreateUser(ctx context.Context, externalID string, profile *botchat.Profile) (botchat.BootstrapResult, error)
	UpdateUser(ctx context.Context, profile botchat.Profile) error
	GetOrStartLastConversation(ctx context.Context) (string, error)
	CreateConversation(ctx context.Context) (string, error)
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context) []botchat.Conversation
	SendMessage(ctx context.Context, text string) (*botchat.Message, error)
	ListMessages(ctx context.Context, nextToken string) botchat.MessagePage
	SetConversationID(ctx context.Context, id string)
	ConversationID() string
	InternalUserID() string
	ClearSession(ctx context.Context, externalID string) error
	AwaitReply(ctx context.Context, seen map[string]struct{}, onPage func([]botchat.Message)) (*botchat.Message, error)
}

// SessionFactory builds a fresh, unbootstrapped session.
type SessionFactory func() BotSession

// Publisher enqueues reply-watch jobs for the notifier worker.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Service owns one BotSession per signed-in user and the reply-watch job
// plumbing. Sessions are plain per-user objects held in a registry, never
// package-level state, so independent users (and tests) don't share
// credentials.
type Service struct {
	factory SessionFactory
	repo    *Repo
	jobs    Publisher

	mu       sync.Mutex
	sessions map[string]BotSession
}

func NewService(factory SessionFactory, repo *Repo, jobs Publisher) *Service {
	return &Service{
		factory:  factory,
		repo:     repo,
		jobs:     jobs,
		sessions: make(map[string]BotSession),
	}
}

// Session returns the user's session, creating an empty one on first use.
func (s *Service) Session(externalID string) BotSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[externalID]
	if !ok {
		sess = s.factory()
		s.sessions[externalID] = sess
	}
	return sess
}

// InitSession bootstraps the chat identity and resumes (or starts) the
// user's conversation. Safe to call repeatedly; concurrent calls share one
// bootstrap inside the session.
func (s *Service) InitSession(ctx context.Context, externalID string, profile *botchat.Profile) (botchat.BootstrapResult, string, error) {
	sess := s.Session(externalID)
	res, err := sess.CreateUser(ctx, externalID, profile)
	if err != nil {
		return botchat.BootstrapResult{}, "", err
	}
	convoID, err := sess.GetOrStartLastConversation(ctx)
	if err != nil {
		return res, "", err
	}
	return res, convoID, nil
}

// DropSession clears the user's chat credentials and forgets the session.
// Used on logout.
func (s *Service) DropSession(ctx context.Context, externalID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[externalID]
	delete(s.sessions, externalID)
	s.mu.Unlock()
	if !ok {
		sess = s.factory()
	}
	return sess.ClearSession(ctx, externalID)
}

// seedSession re-establishes the identity and active conversation on a
// session that lost its in-memory state (typically after a process restart).
// Cached credentials resolve from the shared key store without
// re-registering.
func (s *Service) seedSession(ctx context.Context, sess BotSession, externalID string) error {
	if _, err := sess.CreateUser(ctx, externalID, nil); err != nil {
		return err
	}
	if _, err := sess.GetOrStartLastConversation(ctx); err != nil {
		return err
	}
	return nil
}

// Transcript fetches the current conversation page in display order. The
// read path is tolerant: failures yield an empty transcript.
func (s *Service) Transcript(ctx context.Context, externalID string) []botchat.Message {
	sess := s.Session(externalID)
	if err := s.seedSession(ctx, sess, externalID); err != nil {
		return []botchat.Message{}
	}
	return BuildTranscript(sess.ListMessages(ctx, ""))
}

// SendResult reports an accepted send: the optimistic echo for immediate
// display plus the pre-send snapshot a reply watch needs.
type SendResult struct {
	Pending botchat.Message
	Seen    map[string]struct{}
}

// Send posts a user message. Send failures propagate to the caller for
// user-facing feedback; nothing is swallowed on the write path.
func (s *Service) Send(ctx context.Context, externalID, text string) (*SendResult, error) {
	sess := s.Session(externalID)
	if err := s.seedSession(ctx, sess, externalID); err != nil {
		return nil, err
	}

	seen := botchat.Snapshot(sess.ListMessages(ctx, "").Messages)
	if _, err := sess.SendMessage(ctx, text); err != nil {
		return nil, err
	}
	return &SendResult{
		Pending: PendingMessage(sess.InternalUserID(), text),
		Seen:    seen,
	}, nil
}

// SendAndWait posts a message and blocks on the bounded reply watch. A nil
// reply means the budget expired; the transcript is returned either way.
func (s *Service) SendAndWait(ctx context.Context, externalID, text string) (*botchat.Message, []botchat.Message, error) {
	res, err := s.Send(ctx, externalID, text)
	if err != nil {
		return nil, nil, err
	}

	sess := s.Session(externalID)
	reply, err := sess.AwaitReply(ctx, res.Seen, nil)
	if err != nil {
		return nil, nil, err
	}

	transcript := s.Transcript(ctx, externalID)
	if len(transcript) == 0 {
		// backend lag: show at least the optimistic echo
		transcript = []botchat.Message{res.Pending}
	}
	return reply, transcript, nil
}

// EnqueueWatch records a reply-watch job and hands it to the worker queue.
// With an idempotency key, a duplicate enqueue returns the existing job.
func (s *Service) EnqueueWatch(ctx context.Context, userID uint64, externalID string, seen map[string]struct{}, idempotencyKey *string) (*WatchJob, error) {
	jobID, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	sess := s.Session(externalID)
	job := &WatchJob{
		ID:             jobID,
		UserID:         userID,
		ExternalID:     externalID,
		ConversationID: sess.ConversationID(),
		SeenIDs:        EncodeSeen(seen),
		IdempotencyKey: idempotencyKey,
		Status:         JobQueued,
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, job)
	if err != nil {
		return nil, err
	}
	if created && s.jobs != nil {
		if err := s.jobs.PublishJob(ctx, job.ID); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// RunWatch executes one queued reply watch. Called by the notifier worker.
func (s *Service) RunWatch(ctx context.Context, jobID string) (*WatchJob, *botchat.Message, error) {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	sess := s.Session(job.ExternalID)
	// worker processes share credentials with the API through the key
	// store, so this resolves from cache without re-registering
	if _, err := sess.CreateUser(ctx, job.ExternalID, nil); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return job, nil, err
	}
	if sess.ConversationID() == "" && job.ConversationID != "" {
		sess.SetConversationID(ctx, job.ConversationID)
	}

	reply, err := sess.AwaitReply(ctx, DecodeSeen(job.SeenIDs), nil)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return job, nil, err
	}

	replyText := ""
	if reply != nil {
		replyText = reply.Payload.Text
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, replyText); err != nil {
		return job, reply, err
	}
	return job, reply, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*WatchJob, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
