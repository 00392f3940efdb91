package main

import (
	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 演示 Widget 与处理活动
	widgets := []models.Widget{
		{
			WidgetID:            "demo-site",
			Name:                "Consently 演示站点",
			Domain:              "demo.consently.local",
			DefaultLocale:       "zh-CN",
			ConsentDurationDays: 365,
			OTPExpireMinutes:    10,
			IsActive:            true,
			Activities: []models.Activity{
				{
					ActivityID:  "essential",
					Name:        "必要功能",
					Description: "维持站点正常运行所需的基础能力，不可关闭",
					Essential:   true,
					SortOrder:   0,
				},
				{
					ActivityID:  "analytics",
					Name:        "统计分析",
					Description: "匿名化的访问统计，用于改进站点体验",
					SortOrder:   10,
				},
				{
					ActivityID:  "marketing",
					Name:        "营销推广",
					Description: "个性化内容与营销信息推送",
					SortOrder:   20,
				},
				{
					ActivityID:  "personalization",
					Name:        "个性化偏好",
					Description: "记住语言、主题等个性化设置",
					SortOrder:   30,
				},
			},
		},
		{
			WidgetID:            "docs-site",
			Name:                "Consently 文档站点",
			Domain:              "docs.consently.local",
			DefaultLocale:       "en-US",
			ConsentDurationDays: 180,
			IsActive:            true,
			Activities: []models.Activity{
				{
					ActivityID:  "essential",
					Name:        "Essential",
					Description: "Required for the site to function",
					Essential:   true,
					SortOrder:   0,
				},
				{
					ActivityID:  "analytics",
					Name:        "Analytics",
					Description: "Anonymous usage statistics",
					SortOrder:   10,
				},
			},
		},
	}

	for _, widget := range widgets {
		var existing models.Widget
		if err := models.DB.Where("widget_id = ?", widget.WidgetID).First(&existing).Error; err != nil {
			if err := models.DB.Create(&widget).Error; err != nil {
				stdLog.Printf("Failed to create widget %s: %v", widget.WidgetID, err)
			} else {
				stdLog.Printf("Created widget: %s (%d activities)", widget.WidgetID, len(widget.Activities))
			}
		} else {
			stdLog.Printf("Widget already exists: %s", widget.WidgetID)
		}
	}

	// 默认管理员
	if err := models.InitDefaultAdmin("", ""); err != nil {
		stdLog.Printf("Failed to init default admin: %v", err)
	} else {
		stdLog.Printf("Default admin ready")
	}

	stdLog.Printf("Seed finished")
}
