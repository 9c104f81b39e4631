package responses

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

// RetryAfterSeconds is advertised on retryable 503 responses.
const RetryAfterSeconds = 2

// ErrorResponse represents an error response with platform error details
type ErrorResponse struct {
	XMLName   xml.Name `json:"-" xml:"errorResponse"`
	Code      string   `json:"code" xml:"code"`
	Error     string   `json:"error" xml:"error"`
	Message   string   `json:"message,omitempty" xml:"message,omitempty"`
	ErrorID   string   `json:"error_id,omitempty" xml:"error_id,omitempty"`
	Retryable bool     `json:"retryable,omitempty" xml:"retryable,omitempty"`
	RequestID string   `json:"request_id,omitempty" xml:"request_id,omitempty"`
}

// Negotiate writes data as XML when the client prefers it, JSON otherwise.
func Negotiate(c *gin.Context, status int, data any) {
	switch c.NegotiateFormat(gin.MIMEJSON, gin.MIMEXML, gin.MIMEXML2) {
	case gin.MIMEXML, gin.MIMEXML2:
		c.XML(status, data)
	default:
		c.JSON(status, data)
	}
}

// HandleError logs err and writes it in the format the client negotiated.
func HandleError(c *gin.Context, log zerolog.Logger, err error, message string) {
	requestID := platformerrors.RequestIDFromContext(c.Request.Context())

	var platformErr *platformerrors.PlatformError
	if !errors.As(err, &platformErr) {
		platformErr = platformerrors.NewError(c.Request.Context(), platformerrors.LayerHandler,
			platformerrors.ErrorTypeInternal, message, err, "0c4f8e21-7d3b-4a59-b6e2-91a5d0c3f478")
	}
	if platformErr.RequestID == "" {
		platformErr.RequestID = requestID
	}
	platformerrors.LogError(log, platformErr)

	status := platformerrors.ErrorTypeToHTTPStatus(platformErr.Type)
	errorMessage := platformErr.Message
	if errorMessage == "" {
		errorMessage = message
	}
	code := platformErr.Code
	if code == "" {
		code = platformErr.UUID
	}

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}

	c.Abort()
	Negotiate(c, status, ErrorResponse{
		Code:      code,
		Error:     errorMessage,
		Message:   errorMessage,
		ErrorID:   platformErr.UUID,
		Retryable: platformErr.Retryable(),
		RequestID: platformErr.RequestID,
	})
}
