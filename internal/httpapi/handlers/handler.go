package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/chat"
	"github.com/pinkypill/pocket-backend/internal/common"
	"github.com/pinkypill/pocket-backend/internal/config"
	"github.com/pinkypill/pocket-backend/internal/email"
	"github.com/pinkypill/pocket-backend/internal/httpapi/middleware"
	"github.com/pinkypill/pocket-backend/internal/models"
	"github.com/pinkypill/pocket-backend/internal/profile"
	"github.com/pinkypill/pocket-backend/internal/push"
	"github.com/pinkypill/pocket-backend/internal/storage"
	"github.com/pinkypill/pocket-backend/internal/store/redisstore"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Redis    *redisstore.Store
	Mail     *email.Client
	Push     *push.Client
	Files    *storage.Client
	Profiles *profile.Repo
	ChatSvc  *chat.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, jobs chat.Publisher) *Handler {
	factory := func() chat.BotSession {
		return botchat.NewClient(botchat.Config{
			ChatBaseURL:   cfg.BotpressChatURL,
			APIBaseURL:    cfg.BotpressAPIURL,
			ClientID:      cfg.BotpressClientID,
			BotID:         cfg.BotpressBotID,
			Store:         rds,
			WatchAttempts: cfg.WatchAttempts,
			WatchInterval: cfg.WatchInterval,
		})
	}
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Redis:    rds,
		Mail:     email.NewClient(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName),
		Push:     push.NewClient(cfg.ExpoPushURL),
		Files:    storage.NewClient(cfg.StorageURL, cfg.StorageServiceKey),
		Profiles: profile.NewRepo(db),
		ChatSvc:  chat.NewService(factory, chat.NewRepo(db), jobs),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// currentUser loads the caller's account row; the PublicID on it is the
// external id every chat call keys on.
func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "account no longer exists")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	return &user, true
}
