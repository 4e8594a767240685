package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trackmate/internal/cache"
	"trackmate/internal/config"
	"trackmate/internal/mail"
	"trackmate/internal/middleware"
	"trackmate/internal/repository"
	"trackmate/internal/service"
	"trackmate/internal/storage"
)

type HandlerSet struct {
	log       zerolog.Logger
	cfg       *config.AppConfig
	auth      *service.AuthService
	recovery  *service.RecoveryService
	profile   *service.ProfileService
	classify  *service.ClassifyService
	db        *pgxpool.Pool
	redis     *redis.Client
	users     *repository.UserRepository
	sessions  *repository.SessionRepository
	sessCache *cache.SessionCache
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, redisClient *redis.Client, store *storage.ObjectStore, mailer mail.Mailer, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	backupRepo := repository.NewBackupCodeRepository(db)
	sessCache := cache.NewSessionCache(redisClient)

	auth := service.NewAuthService(userRepo, sessionRepo, sessCache, cfg, log)
	recovery := service.NewRecoveryService(userRepo, backupRepo, mailer, cfg, log)
	profile := service.NewProfileService(userRepo, store, cfg, log)
	classify := service.NewClassifyService(cfg.Classifier, log)

	return HandlerSet{
		log:       log,
		cfg:       cfg,
		auth:      auth,
		recovery:  recovery,
		profile:   profile,
		classify:  classify,
		db:        db,
		redis:     redisClient,
		users:     userRepo,
		sessions:  sessionRepo,
		sessCache: sessCache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/backup-codes", h.GenerateBackupCodes)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/verify-backup-code", h.VerifyBackupCode)
		auth.POST("/reset-password", h.ResetPassword)

		profile := v1.Group("/profile")
		profile.Use(middleware.Auth(h.cfg, h.users, h.sessions, h.sessCache))
		profile.POST("", h.UpdateProfile)
		profile.POST("/image", h.UploadProfileImage)

		activity := v1.Group("/activity")
		activity.POST("/analyze", h.AnalyzeActivity)
	}
}

// fail writes the standard failure envelope.
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

// serverError hides internals behind a generic message.
func serverError(c *gin.Context) {
	fail(c, http.StatusInternalServerError, "An error occurred. Please try again later.")
}
