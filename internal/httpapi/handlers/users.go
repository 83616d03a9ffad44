package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pinkypill/pocket-backend/internal/auth"
	"github.com/pinkypill/pocket-backend/internal/common"
	"github.com/pinkypill/pocket-backend/internal/models"
	"gorm.io/gorm"
)

const sessionTTL = 24 * time.Hour

type signupReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}
	if len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10005, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	user := models.User{
		PublicID:     uuid.NewString(),
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create account (maybe email already registered)")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, sessionTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	// welcome email off the request path
	go func(to string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Mail.SendWelcome(ctx, to); err != nil {
			log.Printf("[Signup] welcome email to=%s err=%v", to, err)
		}
	}(user.Email)

	common.OK(c, gin.H{
		"id":        user.PublicID,
		"email":     user.Email,
		"full_name": user.FullName,
		"token":     token,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", req.Email).First(&user).Error; err != nil {
		// same answer for unknown email and bad password
		common.Fail(c, http.StatusUnauthorized, 40110, "invalid email or password")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40110, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, sessionTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":        user.PublicID,
		"email":     user.Email,
		"full_name": user.FullName,
		"token":     token,
	})
}

func (h *Handler) Me(c *gin.Context) {
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
		"id":         user.PublicID,
		"email":      user.Email,
		"full_name":  user.FullName,
		"created_at": user.CreatedAt,
		"profile":    prof,
	})
}

// Logout drops the server-side chat session along with its stored
// credentials. The JWT itself just expires.
func (h *Handler) Logout(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DropSession(c.Request.Context(), user.PublicID); err != nil {
		log.Printf("[Logout] drop session user=%s err=%v", user.PublicID, err)
	}
	common.OK(c, gin.H{"logged_out": true})
}

type resetReq struct {
	Email string `json:"email"`
}

// RequestPasswordReset emails a single-use reset link. The response never
// reveals whether the address exists.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req resetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email required")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", req.Email).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusInternalServerError, 20001, "db error")
			return
		}
		common.OK(c, gin.H{"sent": true})
		return
	}

	token := uuid.NewString()
	if err := h.Redis.SetResetToken(c.Request.Context(), token,
		strconv.FormatUint(user.ID, 10), h.Cfg.ResetTokenTTL); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20007, "failed to store reset token")
		return
	}

	link := strings.TrimRight(h.Cfg.AppBaseURL, "/") + "/reset?token=" + token
	go func(to, link string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Mail.SendPasswordReset(ctx, to, link); err != nil {
			log.Printf("[RequestPasswordReset] email to=%s err=%v", to, err)
		}
	}(user.Email, link)

	common.OK(c, gin.H{"sent": true})
}

type resetConfirmReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req resetConfirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Token == "" || len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10005, "token and a password of at least 8 characters required")
		return
	}

	uidStr, err := h.Redis.ConsumeResetToken(c.Request.Context(), req.Token)
	if err != nil || uidStr == "" {
		common.Fail(c, http.StatusBadRequest, 10022, "reset token expired or already used")
		return
	}
	uid, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", uid).Update("password_hash", hash).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{"reset": true})
}
