package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/consently-next/internal/constants"
)

const anonymousSuffixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// HashEmail 计算邮箱哈希（小写去空格后取 SHA-256 十六进制）。
// 全链路只存哈希，不落明文邮箱。
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ResolveConsentID 生成本次写入的同意ID。
// 已验证邮箱：{widgetId}_{邮箱哈希前16位}_{毫秒时间戳}，同一邮箱跨设备前缀稳定；
// 匿名访客：{widgetId}_{visitorId}_{毫秒时间戳}_{5位随机小写字母数字}。
func ResolveConsentID(widgetID, visitorID string, emailHash *string, now time.Time) (string, error) {
	millis := now.UnixMilli()
	if emailHash != nil && strings.TrimSpace(*emailHash) != "" {
		prefix := *emailHash
		if len(prefix) > constants.EmailHashPrefixHexLength {
			prefix = prefix[:constants.EmailHashPrefixHexLength]
		}
		return fmt.Sprintf("%s_%s_%d", widgetID, prefix, millis), nil
	}
	suffix, err := randomLowerAlnum(constants.AnonymousSuffixLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%d_%s", widgetID, visitorID, millis, suffix), nil
}

func randomLowerAlnum(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(anonymousSuffixCharset))))
		if err != nil {
			return "", err
		}
		b.WriteByte(anonymousSuffixCharset[n.Int64()])
	}
	return b.String(), nil
}
