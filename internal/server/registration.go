package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	registrationdomain "github.com/smallbiznis/enrollment/internal/registration/domain"
)

type submitRegistrationRequest struct {
	CorrelationID    string                      `json:"correlation_id"`
	FirstName        string                      `json:"first_name"`
	LastName         string                      `json:"last_name"`
	Email            string                      `json:"email"`
	Phone            string                      `json:"phone"`
	DateOfBirth      string                      `json:"date_of_birth"`
	Address          registrationdomain.Address  `json:"address"`
	Employer         string                      `json:"employer"`
	EmploymentStatus string                      `json:"employment_status"`
	PlanTier         string                      `json:"plan_tier"`
	CoverageType     string                      `json:"coverage_type"`
	Amount           int64                       `json:"amount"`
	Currency         string                      `json:"currency"`
	AgentID          string                      `json:"agent_id"`
	Consents         registrationdomain.Consents `json:"consents"`
}

type submitRegistrationResponse struct {
	CorrelationID string    `json:"correlation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SubmitRegistration stages the enrollment form. Nothing durable exists for
// the prospect until a payment is captured.
func (s *Server) SubmitRegistration(c *gin.Context) {
	var req submitRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	draft, err := s.enrollment.SubmitDraft(c.Request.Context(), registrationdomain.Draft{
		CorrelationID:    strings.TrimSpace(req.CorrelationID),
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		DateOfBirth:      req.DateOfBirth,
		Address:          req.Address,
		Employer:         req.Employer,
		EmploymentStatus: req.EmploymentStatus,
		PlanTier:         req.PlanTier,
		CoverageType:     req.CoverageType,
		Amount:           req.Amount,
		Currency:         req.Currency,
		AgentID:          req.AgentID,
		Consents:         req.Consents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, submitRegistrationResponse{
		CorrelationID: draft.CorrelationID,
		ExpiresAt:     draft.ExpiresAt,
	})
}

func (s *Server) StartPaymentSession(c *gin.Context) {
	correlationID := strings.TrimSpace(c.Param("correlation_id"))
	if correlationID == "" {
		AbortWithError(c, newValidationError("correlation_id", "required", "correlation_id is required"))
		return
	}

	resp, err := s.enrollment.StartPayment(c.Request.Context(), correlationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
