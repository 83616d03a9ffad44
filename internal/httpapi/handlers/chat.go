package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/common"
	"github.com/pinkypill/pocket-backend/internal/models"
	"gorm.io/gorm"
)

// InitChatSession bootstraps the caller's chat identity and restores or
// opens their conversation. Safe to call on every app launch.
func (h *Handler) InitChatSession(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	res, convoID, err := h.ChatSvc.InitSession(c.Request.Context(), user.PublicID, h.chatProfile(user))
	if err != nil {
		log.Printf("[InitChatSession] user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50201, "chat backend unavailable")
		return
	}

	common.OK(c, gin.H{
		"user_id":         res.InternalUserID,
		"conversation_id": convoID,
		"registered":      res.Registered,
	})
}

func (h *Handler) chatProfile(user *models.User) *botchat.Profile {
	if user.FullName == "" && user.Email == "" {
		return nil
	}
	return &botchat.Profile{Name: user.FullName, Email: user.Email}
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

// SendChatMessage sends the user's text and polls for the bot reply before
// responding. The transcript in the response is ordered oldest first.
func (h *Handler) SendChatMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	reply, transcript, err := h.ChatSvc.SendAndWait(c.Request.Context(), user.PublicID, req.Message)
	if err != nil {
		log.Printf("[SendChatMessage] user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50202, "failed to send message")
		return
	}

	resp := gin.H{"messages": transcript}
	if reply != nil {
		resp["reply"] = reply
	}
	common.OK(c, resp)
}

// SendChatMessageAsync accepts the message, queues a reply watch for the
// notifier worker, and returns immediately with the optimistic echo.
func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	res, err := h.ChatSvc.Send(c.Request.Context(), user.PublicID, req.Message)
	if err != nil {
		log.Printf("[SendChatMessageAsync] send user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50202, "failed to send message")
		return
	}

	job, err := h.ChatSvc.EnqueueWatch(c.Request.Context(), user.ID, user.PublicID, res.Seen, idempoKeyPtr)
	if err != nil {
		log.Printf("[SendChatMessageAsync] enqueue user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	common.OK(c, gin.H{
		"job_id":  job.ID,
		"pending": res.Pending,
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"status":     j.Status,
			"reply":      j.ReplyText,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}

// ListChatMessages returns the active conversation's transcript, oldest
// first. Transient backend failures read as an empty list.
func (h *Handler) ListChatMessages(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	msgs := h.ChatSvc.Transcript(c.Request.Context(), user.PublicID)
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) ListConversations(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	sess := h.ChatSvc.Session(user.PublicID)
	// tolerant read: a failed bootstrap just lists nothing
	if _, err := sess.CreateUser(c.Request.Context(), user.PublicID, h.chatProfile(user)); err != nil {
		log.Printf("[ListConversations] bootstrap user=%s err=%v", user.PublicID, err)
		common.OK(c, gin.H{"conversations": []botchat.Conversation{}, "active_id": ""})
		return
	}
	common.OK(c, gin.H{
		"conversations": sess.ListConversations(c.Request.Context()),
		"active_id":     sess.ConversationID(),
	})
}

// CreateConversation starts a fresh conversation and makes it the active
// one.
func (h *Handler) CreateConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	sess := h.ChatSvc.Session(user.PublicID)
	if _, err := sess.CreateUser(c.Request.Context(), user.PublicID, h.chatProfile(user)); err != nil {
		log.Printf("[CreateConversation] bootstrap user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50201, "chat backend unavailable")
		return
	}
	id, err := sess.CreateConversation(c.Request.Context())
	if err != nil {
		log.Printf("[CreateConversation] user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50203, "failed to create conversation")
		return
	}
	common.OK(c, gin.H{"conversation_id": id})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	convoID := c.Param("conversation_id")
	if convoID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "conversation_id required")
		return
	}
	sess := h.ChatSvc.Session(user.PublicID)
	if _, err := sess.CreateUser(c.Request.Context(), user.PublicID, h.chatProfile(user)); err != nil {
		log.Printf("[DeleteConversation] bootstrap user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50201, "chat backend unavailable")
		return
	}
	if err := sess.DeleteConversation(c.Request.Context(), convoID); err != nil {
		log.Printf("[DeleteConversation] user=%s convo=%s err=%v", user.PublicID, convoID, err)
		common.Fail(c, http.StatusBadGateway, 50204, "failed to delete conversation")
		return
	}
	common.OK(c, gin.H{"deleted": convoID})
}
