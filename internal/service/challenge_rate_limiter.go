package service

import (
	"context"
	"fmt"
	"time"

	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/repository"

	"github.com/redis/go-redis/v9"
)

var challengeRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// 只在计数存在且大于零时递减，避免把窗口计数减成负数
var challengeRateRefundScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// ChallengeRateLimiter 验证码发送限流器。
// 限流维度是 (邮箱哈希, widget)，计数与过期必须原子完成。
// Refund 归还一次已占用的发送额度，用于发信失败的补偿路径。
type ChallengeRateLimiter interface {
	Allow(ctx context.Context, emailHash, widgetID string) (retryAfterSeconds int, allowed bool, err error)
	Refund(ctx context.Context, emailHash, widgetID string) error
}

// RedisChallengeRateLimiter 基于 Redis 原子脚本的限流实现，
// Redis 不可用时回退到数据库窗口计数。
type RedisChallengeRateLimiter struct {
	client        *redis.Client
	keyPrefix     string
	windowSeconds int
	maxPerWindow  int
	fallback      *DBChallengeRateLimiter
}

// NewRedisChallengeRateLimiter 创建 Redis 限流器
func NewRedisChallengeRateLimiter(client *redis.Client, keyPrefix string, windowSeconds, maxPerWindow int, fallback *DBChallengeRateLimiter) *RedisChallengeRateLimiter {
	return &RedisChallengeRateLimiter{
		client:        client,
		keyPrefix:     keyPrefix,
		windowSeconds: windowSeconds,
		maxPerWindow:  maxPerWindow,
		fallback:      fallback,
	}
}

// Allow 判断本次发送是否放行
func (l *RedisChallengeRateLimiter) Allow(ctx context.Context, emailHash, widgetID string) (int, bool, error) {
	if l == nil || l.windowSeconds <= 0 || l.maxPerWindow <= 0 {
		return 0, true, nil
	}
	if l.client == nil {
		return l.fallbackAllow(ctx, emailHash, widgetID)
	}

	key := fmt.Sprintf("%s:otp_send:%s:%s", l.keyPrefix, widgetID, emailHash)
	result, err := challengeRateLimitScript.Run(ctx, l.client, []string{key}, l.windowSeconds).Result()
	if err != nil {
		logger.Warnw("challenge_rate_limit_redis_failed", "error", err, "widget_id", widgetID)
		return l.fallbackAllow(ctx, emailHash, widgetID)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return l.fallbackAllow(ctx, emailHash, widgetID)
	}
	count, ok := values[0].(int64)
	if !ok {
		return l.fallbackAllow(ctx, emailHash, widgetID)
	}
	if count <= int64(l.maxPerWindow) {
		return 0, true, nil
	}

	ttl, _ := values[1].(int64)
	retryAfter := int(ttl)
	if retryAfter < 1 {
		retryAfter = l.windowSeconds
	}
	return retryAfter, false, nil
}

// Refund 归还一次发送额度。失败的发信不应占用窗口内的发送次数
func (l *RedisChallengeRateLimiter) Refund(ctx context.Context, emailHash, widgetID string) error {
	if l == nil || l.client == nil || l.windowSeconds <= 0 || l.maxPerWindow <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s:otp_send:%s:%s", l.keyPrefix, widgetID, emailHash)
	if err := challengeRateRefundScript.Run(ctx, l.client, []string{key}).Err(); err != nil {
		return err
	}
	return nil
}

func (l *RedisChallengeRateLimiter) fallbackAllow(ctx context.Context, emailHash, widgetID string) (int, bool, error) {
	if l.fallback == nil {
		return 0, true, nil
	}
	return l.fallback.Allow(ctx, emailHash, widgetID)
}

// DBChallengeRateLimiter 基于数据库窗口计数的限流实现（Redis 关闭时使用）
type DBChallengeRateLimiter struct {
	challengeRepo repository.EmailVerifyChallengeRepository
	windowSeconds int
	maxPerWindow  int
}

// NewDBChallengeRateLimiter 创建数据库限流器
func NewDBChallengeRateLimiter(challengeRepo repository.EmailVerifyChallengeRepository, windowSeconds, maxPerWindow int) *DBChallengeRateLimiter {
	return &DBChallengeRateLimiter{
		challengeRepo: challengeRepo,
		windowSeconds: windowSeconds,
		maxPerWindow:  maxPerWindow,
	}
}

// Allow 判断本次发送是否放行
func (l *DBChallengeRateLimiter) Allow(ctx context.Context, emailHash, widgetID string) (int, bool, error) {
	if l == nil || l.challengeRepo == nil || l.windowSeconds <= 0 || l.maxPerWindow <= 0 {
		return 0, true, nil
	}
	_ = ctx
	now := time.Now()
	since := now.Add(-time.Duration(l.windowSeconds) * time.Second)
	count, err := l.challengeRepo.CountSentSince(emailHash, widgetID, since)
	if err != nil {
		return 0, false, err
	}
	if count < int64(l.maxPerWindow) {
		return 0, true, nil
	}

	retryAfter := l.windowSeconds
	oldest, err := l.challengeRepo.OldestSentSince(emailHash, widgetID, since)
	if err == nil && oldest != nil {
		remaining := int(oldest.SentAt.Add(time.Duration(l.windowSeconds) * time.Second).Sub(now).Seconds())
		if remaining >= 1 {
			retryAfter = remaining
		} else {
			retryAfter = 1
		}
	}
	return retryAfter, false, nil
}

// Refund 数据库计数基于未删除的挑战行，补偿删除后计数自然回落，无需额外动作
func (l *DBChallengeRateLimiter) Refund(ctx context.Context, emailHash, widgetID string) error {
	_, _, _ = ctx, emailHash, widgetID
	return nil
}
