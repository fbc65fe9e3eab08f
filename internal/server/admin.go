package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

type resolveNotificationRequest struct {
	By string `json:"by"`
}

type listNotificationsResponse struct {
	Notifications []notificationdomain.Notification `json:"notifications"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxNotificationLimit)
	}

	items, err := s.notifications.ListUnresolved(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if items == nil {
		items = []notificationdomain.Notification{}
	}

	c.JSON(http.StatusOK, listNotificationsResponse{Notifications: items})
}

// ResolveNotification defaults the resolver to the authenticated operator.
func (s *Server) ResolveNotification(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req resolveNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = c.GetString(contextAdminKey)
	}

	if err := s.notifications.MarkResolved(c.Request.Context(), id, by); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (s *Server) GetMemberByCustomerNumber(c *gin.Context) {
	member, err := s.members.GetByCustomerNumber(c.Request.Context(), strings.TrimSpace(c.Param("customer_number")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, member)
}

func (s *Server) GetMemberCommission(c *gin.Context) {
	ctx := c.Request.Context()
	member, err := s.members.GetByCustomerNumber(ctx, strings.TrimSpace(c.Param("customer_number")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	commission, err := s.commissions.GetByMemberID(ctx, member.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, commission)
}

// QuoteCommission evaluates the current commission table for a plan.
func (s *Server) QuoteCommission(c *gin.Context) {
	tier := strings.TrimSpace(c.Query("plan_tier"))
	coverage := strings.TrimSpace(c.Query("coverage_type"))
	if tier == "" || coverage == "" {
		AbortWithError(c, newValidationError("plan_tier", "required", "plan_tier and coverage_type are required"))
		return
	}

	amount, err := s.commissions.Calculate(tier, coverage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan_tier":     tier,
		"coverage_type": coverage,
		"commission":    amount,
	})
}
