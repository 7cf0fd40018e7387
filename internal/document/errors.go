package document

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is a request failure whose message is returned to the client.
type Error struct {
	Status  int
	Code    string
	Message string
	// Fields are merged into the response body.
	Fields gin.H
	Err    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		body := gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}
		for k, v := range apiErr.Fields {
			body[k] = v
		}
		c.JSON(apiErr.Status, body)
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "The request was canceled.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Internal server error.",
		})
	}
}
