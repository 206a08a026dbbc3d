package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/visera/backend/pkg/logger"
)

// Audit actions recorded by the services.
const (
	AuditActionSignup         = "user.signup"
	AuditActionLogin          = "auth.login"
	AuditActionLogout         = "auth.logout"
	AuditActionRefresh        = "auth.refresh"
	AuditActionEmailVerified  = "user.email_verified"
	AuditActionPasswordChange = "user.password_change"
	AuditActionDelete         = "user.delete"
)

const (
	auditResultSuccess = "success"
	auditResultFailure = "failure"
)

// RequestMeta carries the client details attached to sessions and audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// recordAudit stores the entry. A failed write is logged and never fails the caller's flow.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// truncate caps value at max bytes without splitting a UTF-8 sequence.
func truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	cut := value[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
