package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/enrollment/internal/commission/domain"
	enrollmentdomain "github.com/smallbiznis/enrollment/internal/enrollment/domain"
	memberdomain "github.com/smallbiznis/enrollment/internal/member/domain"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/enrollment/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, registrationdomain.ErrDraftExpired),
		errors.Is(err, enrollmentdomain.ErrDraftMissing):
		return http.StatusGone, errorPayload{
			Type:    "draft_expired",
			Message: "registration expired, please start again",
		}
	case errors.Is(err, paymentdomain.ErrAttemptsExhausted):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "attempts_exhausted",
			Message: "payment attempts exhausted",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_failed",
			Message: "payment failed, try again",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, paymentdomain.ErrConcurrentAttempt),
		errors.Is(err, notificationdomain.ErrAlreadyResolved):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error_type and error_code fields for the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		code = vErr.Errors[0].Code
	} else if isValidationError(err) {
		code = validationErrorCode(err)
	} else if payload.Type == "internal_error" {
		code = "unexpected"
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrAmountMismatch):
		return true
	case isRegistrationValidationError(err),
		isNotificationValidationError(err):
		return true
	default:
		return false
	}
}

func isRegistrationValidationError(err error) bool {
	switch {
	case errors.Is(err, registrationdomain.ErrInvalidCorrelationID),
		errors.Is(err, registrationdomain.ErrInvalidName),
		errors.Is(err, registrationdomain.ErrInvalidEmail),
		errors.Is(err, registrationdomain.ErrInvalidAddress),
		errors.Is(err, registrationdomain.ErrInvalidPlan),
		errors.Is(err, registrationdomain.ErrInvalidAmount),
		errors.Is(err, registrationdomain.ErrInvalidCurrency),
		errors.Is(err, registrationdomain.ErrConsentRequired),
		errors.Is(err, commissiondomain.ErrRateNotFound):
		return true
	default:
		return false
	}
}

func isNotificationValidationError(err error) bool {
	return errors.Is(err, notificationdomain.ErrInvalidStage) ||
		errors.Is(err, notificationdomain.ErrInvalidResolver)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrSessionNotFound),
		errors.Is(err, notificationdomain.ErrNotFound),
		errors.Is(err, memberdomain.ErrNotFound),
		errors.Is(err, commissiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, paymentdomain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, registrationdomain.ErrConsentRequired):
		return "consent_required"
	case errors.Is(err, commissiondomain.ErrRateNotFound):
		return "invalid_plan"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request", "invalid_payload":
		return "request"
	case "consent_required":
		return "consents"
	case "amount_mismatch":
		return "amount"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "consent_required":
		return "all consents must be accepted"
	case "amount_mismatch":
		return "amount does not match the session"
	default:
		return "invalid value"
	}
}
