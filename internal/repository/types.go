package repository

import "time"

// WidgetListFilter 查询 Widget 列表的过滤条件
type WidgetListFilter struct {
	Page     int
	PageSize int
	Search   string
	IsActive *bool
}

// AuthzAuditLogListFilter 查询权限审计日志的过滤条件
type AuthzAuditLogListFilter struct {
	Page            int
	PageSize        int
	OperatorAdminID uint
	TargetAdminID   uint
	Action          string
	Role            string
	Object          string
	Method          string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

// ConsentRecordListFilter 查询同意记录列表的过滤条件
type ConsentRecordListFilter struct {
	Page          int
	PageSize      int
	WidgetID      string
	VisitorID     string
	ConsentID     string
	OverallStatus string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}
