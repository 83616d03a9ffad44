package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/common"
	"github.com/pinkypill/pocket-backend/internal/profile"
	"github.com/pinkypill/pocket-backend/internal/push"
)

func (h *Handler) GetProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	prof, err := h.Profiles.Get(c.Request.Context(), user.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{
		"profile":       prof,
		"notifications": prof.Preferences(),
	})
}

type upsertProfileReq struct {
	FullName string `json:"full_name"`
	Age      string `json:"age"`
}

func (h *Handler) UpsertProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req upsertProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := &profile.Profile{
		UserID:   user.ID,
		FullName: strings.TrimSpace(req.FullName),
		Age:      strings.TrimSpace(req.Age),
	}
	if err := h.Profiles.Upsert(c.Request.Context(), p); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	// keep the chat backend's copy of the name in step, best effort
	sess := h.ChatSvc.Session(user.PublicID)
	if err := sess.UpdateUser(c.Request.Context(), botchat.Profile{Name: p.FullName, Email: user.Email}); err != nil {
		log.Printf("[UpsertProfile] chat profile sync user=%s err=%v", user.PublicID, err)
	}

	common.OK(c, gin.H{"saved": true})
}

type uploadAvatarReq struct {
	// base64 image bytes; a data-url prefix is tolerated
	Data        string `json:"data" binding:"required"`
	ContentType string `json:"content_type"`
}

// UploadAvatar stores the image in the avatar bucket and saves the public
// URL on the profile. Re-upload overwrites the previous object.
func (h *Handler) UploadAvatar(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req uploadAvatarReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	name := fmt.Sprintf("%s-%d.jpg", user.PublicID, time.Now().Unix())
	url, err := h.Files.UploadBase64(c.Request.Context(), h.Cfg.AvatarBucket, name, contentType, req.Data)
	if err != nil {
		log.Printf("[UploadAvatar] user=%s err=%v", user.PublicID, err)
		common.Fail(c, http.StatusBadGateway, 50301, "avatar upload failed")
		return
	}

	if err := h.Profiles.SaveAvatarURL(c.Request.Context(), user.ID, url); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{"avatar_url": url})
}

// GetPlan degrades to the free tier rather than failing the request.
func (h *Handler) GetPlan(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	common.OK(c, gin.H{"plan": h.Profiles.Plan(c.Request.Context(), user.ID)})
}

type quizReq struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

func (h *Handler) SaveQuizResult(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req quizReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Profiles.SaveQuizResult(c.Request.Context(), user.ID, req.Answers); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"saved": true})
}

func (h *Handler) UpdateNotificationPrefs(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var prefs profile.NotificationPreferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Profiles.UpdateNotificationPrefs(c.Request.Context(), user.ID, prefs); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, prefs)
}

type registerPushReq struct {
	Token string `json:"token" binding:"required"`
}

// RegisterPushToken validates and stores the device's Expo push token.
func (h *Handler) RegisterPushToken(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req registerPushReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !push.ValidToken(req.Token) {
		common.Fail(c, http.StatusBadRequest, 10030, "not an Expo push token")
		return
	}
	if err := h.Profiles.SavePushToken(c.Request.Context(), user.ID, req.Token); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"registered": true})
}
