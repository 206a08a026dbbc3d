package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/response"
)

var errMethodNotAllowed = apperrors.New("METHOD_NOT_ALLOWED", "Method Not Allowed", http.StatusMethodNotAllowed)

// Recovery turns a panic in a handler into a logged 500 response. http.ErrAbortHandler is
// re-raised so net/http can drop the connection quietly.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.WithModule("http").Error("handler panicked",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Abort(c, apperrors.ErrInternalServer)
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with a JSON 404 naming the path.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.ErrNotFound.WithMessage("Route "+c.Request.URL.Path+" not found"))
}

// MethodNotAllowedHandler answers known routes hit with the wrong method.
func MethodNotAllowedHandler(c *gin.Context) {
	response.Error(c, errMethodNotAllowed)
}
