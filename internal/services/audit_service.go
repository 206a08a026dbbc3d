package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/models"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID    *string
	Email     string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

const (
	maxAuditUserAgent = 512
	maxAuditIPAddress = 64
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditService persists the security trail shown on the account activity page and enforces
// its retention.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

// AuditOption customises an AuditService.
type AuditOption func(*AuditService)

// WithAuditClock overrides the clock used for timestamps and retention cut-offs.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(s *AuditService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, opts ...AuditOption) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	svc := &AuditService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Log stores an audit entry. Client supplied fields are trimmed and capped to their column
// budget; metadata is stored as JSON.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	action := strings.TrimSpace(entry.Action)
	result := strings.TrimSpace(entry.Result)
	if action == "" {
		return errors.New("audit service: action is required")
	}
	if result == "" {
		return errors.New("audit service: result is required")
	}

	record := models.AuditLog{
		UserID:    stringPtr(strings.TrimSpace(derefString(entry.UserID))),
		Email:     normaliseEmail(entry.Email),
		Action:    action,
		Resource:  strings.TrimSpace(entry.Resource),
		Result:    result,
		IPAddress: truncate(strings.TrimSpace(entry.IPAddress), maxAuditIPAddress),
		UserAgent: truncate(strings.TrimSpace(entry.UserAgent), maxAuditUserAgent),
		CreatedAt: s.now().UTC(),
	}

	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		record.Metadata = datatypes.JSON(encoded)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("audit service: store entry: %w", err)
	}
	return nil
}

// ListForUser returns the user's most recent entries, newest first. Limits outside 1..200
// fall back to 50.
func (s *AuditService) ListForUser(ctx context.Context, userID string, limit int) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}

	logs := make([]models.AuditLog, 0, limit)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit service: list entries: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan deletes entries recorded more than retentionDays ago.
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retention must be at least one day")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: purge entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
