package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pinkypill/pocket-backend/internal/chat"
	"github.com/pinkypill/pocket-backend/internal/common"
	"github.com/pinkypill/pocket-backend/internal/config"
	"github.com/pinkypill/pocket-backend/internal/httpapi/handlers"
	"github.com/pinkypill/pocket-backend/internal/httpapi/middleware"
	"github.com/pinkypill/pocket-backend/internal/store/redisstore"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, jobs chat.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, jobs)

	r.GET("/ping", h.Ping)

	// accounts
	r.POST("/signup", h.Signup)
	r.POST("/login", h.Login)
	r.POST("/auth/reset", h.RequestPasswordReset)
	r.POST("/auth/reset/confirm", h.ConfirmPasswordReset)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/logout", h.Logout)

	// profile
	authGroup.GET("/profile", h.GetProfile)
	authGroup.PUT("/profile", h.UpsertProfile)
	authGroup.POST("/profile/avatar", h.UploadAvatar)
	authGroup.GET("/profile/plan", h.GetPlan)
	authGroup.POST("/profile/quiz", h.SaveQuizResult)
	authGroup.PUT("/profile/notifications", h.UpdateNotificationPrefs)
	authGroup.POST("/push/token", h.RegisterPushToken)

	// chat (JWT required)
	authGroup.POST("/chat/session", h.InitChatSession)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/messages/async", h.SendChatMessageAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)
	authGroup.GET("/chat/messages", h.ListChatMessages)
	authGroup.GET("/chat/conversations", h.ListConversations)
	authGroup.POST("/chat/conversations", h.CreateConversation)
	authGroup.DELETE("/chat/conversations/:conversation_id", h.DeleteConversation)

	return r
}
