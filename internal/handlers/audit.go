package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/response"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// AuditHandler exposes the signed-in user's own security activity.
type AuditHandler struct {
	svc *services.AuditService
}

type activityEntry struct {
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /users/me/activity
func (h *AuditHandler) ListMine(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}

	limit := parseIntQuery(c, "limit", defaultActivityLimit)
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	logs, err := h.svc.ListForUser(requestContext(c), user.ID, limit)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, toActivity(logs))
}

func toActivity(logs []models.AuditLog) []activityEntry {
	out := make([]activityEntry, 0, len(logs))
	for _, entry := range logs {
		out = append(out, activityEntry{
			Action:    entry.Action,
			Result:    entry.Result,
			IPAddress: entry.IPAddress,
			UserAgent: entry.UserAgent,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}
