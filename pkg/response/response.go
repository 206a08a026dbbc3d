package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/visera/backend/pkg/errors"
)

// ErrorBody is the JSON payload written for every failed request.
type ErrorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// Message is a minimal informational payload.
type Message struct {
	Message string `json:"message"`
}

// Success writes data as the JSON body with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, data)
}

// NoContent writes an empty 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}

// Error writes a JSON error response derived from an AppError. Unauthorised responses
// advertise the bearer scheme. For server errors the internal cause is recorded on the
// context so the request logger reports it; it never reaches the client.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError && appErr.Internal != nil {
		_ = c.Error(appErr.Internal)
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}

	c.JSON(status, ErrorBody{
		Detail: appErr.Message,
		Code:   appErr.Code,
	})
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
