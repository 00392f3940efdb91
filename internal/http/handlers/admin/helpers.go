package admin

import (
	"strings"
	"time"

	handlershared "github.com/consently-next/internal/http/handlers/shared"
)

func normalizePagination(page, pageSize int) (int, int) {
	return handlershared.NormalizePagination(page, pageSize)
}

// parseTimeNullable 解析可空时间参数，支持 RFC3339 与日期两种格式
func parseTimeNullable(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
