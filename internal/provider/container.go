package provider

import (
	"strings"

	"github.com/consently-next/internal/authz"
	"github.com/consently-next/internal/cache"
	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/queue"
	"github.com/consently-next/internal/repository"
	"github.com/consently-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	AdminRepo         repository.AdminRepository
	WidgetRepo        repository.WidgetRepository
	ChallengeRepo     repository.EmailVerifyChallengeRepository
	PreferenceRepo    repository.ActivityPreferenceRepository
	ConsentRecordRepo repository.ConsentRecordRepository
	SettingRepo       repository.SettingRepository
	AuthzAuditLogRepo repository.AuthzAuditLogRepository

	// Services
	AuthzService         *authz.Service
	AuthService          *service.AuthService
	EmailService         *service.EmailService
	CaptchaService       *service.CaptchaService
	SettingService       *service.SettingService
	WidgetService        *service.WidgetService
	OTPService           *service.OTPService
	PreferenceService    *service.PreferenceService
	ConsentRecordService *service.ConsentRecordService
	AuthzAuditService    *service.AuthzAuditService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.WidgetRepo = repository.NewWidgetRepository(db)
	c.ChallengeRepo = repository.NewEmailVerifyChallengeRepository(db)
	c.PreferenceRepo = repository.NewActivityPreferenceRepository(db)
	c.ConsentRecordRepo = repository.NewConsentRecordRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
	c.AuthzAuditLogRepo = repository.NewAuthzAuditLogRepository(db)
}

func (c *Container) initServices() {
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		panic(err)
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		panic(err)
	}

	c.SettingService = service.NewSettingService(c.SettingRepo)
	smtpSetting, err := c.SettingService.GetSMTPSetting(c.Config.Email)
	if err != nil {
		logger.Warnw("provider_load_smtp_setting_failed", "error", err)
	} else {
		c.Config.Email = service.SMTPSettingToConfig(smtpSetting)
	}

	captchaSetting, err := c.SettingService.GetCaptchaSetting(c.Config.Captcha)
	if err != nil {
		logger.Warnw("provider_load_captcha_setting_failed", "error", err)
	} else {
		c.Config.Captcha = service.CaptchaSettingToConfig(captchaSetting)
	}

	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.CaptchaService = service.NewCaptchaService(c.SettingService, c.Config.Captcha)
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo)
	c.WidgetService = service.NewWidgetService(c.WidgetRepo)
	c.ConsentRecordService = service.NewConsentRecordService(c.ConsentRecordRepo, c.QueueClient)
	c.OTPService = service.NewOTPService(c.Config, c.WidgetRepo, c.ChallengeRepo, c.PreferenceRepo, c.EmailService, c.buildChallengeRateLimiter())
	c.PreferenceService = service.NewPreferenceService(c.Config, c.WidgetRepo, c.PreferenceRepo, c.ChallengeRepo, c.ConsentRecordService)
	c.AuthzAuditService = service.NewAuthzAuditService(c.AuthzAuditLogRepo)
}

func (c *Container) buildChallengeRateLimiter() service.ChallengeRateLimiter {
	windowSeconds := c.Config.Consent.OTPWindowSeconds
	maxPerWindow := c.Config.Consent.OTPMaxPerWindow
	fallback := service.NewDBChallengeRateLimiter(c.ChallengeRepo, windowSeconds, maxPerWindow)

	prefix := strings.TrimSpace(c.Config.Redis.Prefix)
	if prefix == "" {
		prefix = "cst"
	}
	return service.NewRedisChallengeRateLimiter(cache.Client(), prefix, windowSeconds, maxPerWindow, fallback)
}
