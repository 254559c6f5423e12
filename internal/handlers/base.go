package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"crowdlink/internal/apperror"
)

// respondError renders any error as the API's JSON error envelope. Typed
// errors carry their message and key through to the client; anything else
// is logged with request context and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := apperror.Status(err)
	out := gin.H{"success": false}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		out["message"] = appErr.Message
		if appErr.ErrorKey != "" {
			out["error_key"] = appErr.ErrorKey
		}
		if appErr.Cause != nil {
			logrus.WithError(appErr.Cause).
				WithFields(logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}).
				Warn(appErr.Message)
		}
	} else {
		out["message"] = "An unknown error has occurred"
		logrus.WithError(err).
			WithFields(logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}).
			Error("Unhandled error")
	}
	c.JSON(status, out)
}

// bindJSON reads the request body into a generic parameter map, failing
// the request when no usable body is present.
func bindJSON(c *gin.Context) (map[string]interface{}, bool) {
	params := map[string]interface{}{}
	if err := c.ShouldBindJSON(&params); err != nil || len(params) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "A JSON body is required",
		})
		return nil, false
	}
	return params, true
}
