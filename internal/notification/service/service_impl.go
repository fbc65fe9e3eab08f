package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollment/internal/clock"
	"github.com/smallbiznis/enrollment/internal/config"
	"github.com/smallbiznis/enrollment/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	"github.com/smallbiznis/enrollment/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxDetailLength  = 2000
	alertTimeout     = 15 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Mailer     email.Provider      `optional:"true"`
	Config     config.Config       `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
	mailer     email.Provider
	recipients []string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("notification.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
		mailer:     p.Mailer,
		recipients: p.Config.Email.AlertRecipients,
	}
}

// Record appends a notification. Recording a dedupe key that is still
// unresolved returns the open row; a resolved key is raised again.
func (s *Service) Record(ctx context.Context, entry domain.Entry) (domain.Notification, error) {
	stage := domain.Stage(strings.TrimSpace(string(entry.Stage)))
	if stage == "" {
		return domain.Notification{}, domain.ErrInvalidStage
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("encode notification metadata: %w", err)
	}

	item := domain.Notification{
		ID:             s.genID.Generate(),
		CorrelationID:  strings.TrimSpace(entry.CorrelationID),
		MemberID:       entry.MemberID,
		SubscriptionID: entry.SubscriptionID,
		Stage:          stage,
		ErrorDetail:    detailOf(entry),
		Metadata:       datatypes.JSON(rawMetadata),
		DedupeKey:      dedupeKey(entry, stage),
		CreatedAt:      s.clock.Now(),
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, &item)
	if err != nil {
		return domain.Notification{}, err
	}
	if !inserted {
		existing, err := s.repo.FindByDedupeKey(ctx, s.db, item.DedupeKey)
		if err != nil {
			return domain.Notification{}, err
		}
		if existing == nil {
			return domain.Notification{}, domain.ErrNotFound
		}
		return *existing, nil
	}

	fields := []zap.Field{
		zap.String("notification_id", item.ID.String()),
		zap.String("stage", string(item.Stage)),
		zap.String("correlation_id", item.CorrelationID),
		zap.String("error_detail", item.ErrorDetail),
	}
	if item.MemberID != nil {
		fields = append(fields, zap.String("member_id", item.MemberID.String()))
	}
	if item.SubscriptionID != nil {
		fields = append(fields, zap.String("subscription_id", item.SubscriptionID.String()))
	}
	s.log.Warn("admin.notification.recorded", fields...)
	s.obsMetrics.RecordNotification(ctx, string(item.Stage))
	s.sendAlert(ctx, item)

	return item, nil
}

// sendAlert emails operators about a newly recorded notification. Delivery is
// best effort and never blocks or fails Record.
func (s *Service) sendAlert(ctx context.Context, item domain.Notification) {
	if s.mailer == nil || len(s.recipients) == 0 {
		return
	}

	subject := fmt.Sprintf("[enrollment] admin notification: %s", item.Stage)
	var body strings.Builder
	fmt.Fprintf(&body, "Notification: %s\n", item.ID)
	fmt.Fprintf(&body, "Stage: %s\n", item.Stage)
	if item.CorrelationID != "" {
		fmt.Fprintf(&body, "Correlation: %s\n", item.CorrelationID)
	}
	if item.MemberID != nil {
		fmt.Fprintf(&body, "Member: %s\n", item.MemberID)
	}
	if item.SubscriptionID != nil {
		fmt.Fprintf(&body, "Subscription: %s\n", item.SubscriptionID)
	}
	fmt.Fprintf(&body, "Recorded: %s\n", item.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "\n%s\n", item.ErrorDetail)

	recipients := append([]string(nil), s.recipients...)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if err := s.mailer.Send(sendCtx, recipients, subject, body.String()); err != nil {
			s.log.Warn("admin.notification.alert_failed",
				zap.String("notification_id", item.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) ListUnresolved(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListUnresolved(ctx, s.db, limit)
}

func (s *Service) MarkResolved(ctx context.Context, id snowflake.ID, by string) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return domain.ErrInvalidResolver
	}

	updated, err := s.repo.MarkResolved(ctx, s.db, id, by, s.clock.Now())
	if err != nil {
		return err
	}
	if updated {
		s.log.Info("admin.notification.resolved",
			zap.String("notification_id", id.String()),
			zap.String("resolved_by", by),
		)
		return nil
	}

	existing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyResolved
}

func detailOf(entry domain.Entry) string {
	detail := strings.TrimSpace(entry.Detail)
	if entry.Err != nil {
		if detail == "" {
			detail = entry.Err.Error()
		} else {
			detail = detail + ": " + entry.Err.Error()
		}
	}
	if len(detail) > maxDetailLength {
		detail = detail[:maxDetailLength]
	}
	return detail
}

func dedupeKey(entry domain.Entry, stage domain.Stage) string {
	if key := strings.TrimSpace(entry.DedupeKey); key != "" {
		return key
	}
	parts := []string{string(stage), strings.TrimSpace(entry.CorrelationID)}
	if entry.MemberID != nil {
		parts = append(parts, "member:"+entry.MemberID.String())
	}
	if entry.SubscriptionID != nil {
		parts = append(parts, "subscription:"+entry.SubscriptionID.String())
	}
	return strings.Join(parts, "|")
}
