package abuse

import (
	"context"
	"time"

	"promptmarket-rewards/services/audit"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const auditActionInvestigate = "abuse_case.investigate"

// Service is the investigation workflow: it moves a flagged case through its
// status lifecycle and records an audit entry for every mutation. The status
// update and the audit write are one logical operation; if either fails the
// whole thing rolls back.
type Service struct {
	db    *gorm.DB
	cases Repository
	audit audit.Sink
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Repository Repository
	Audit      audit.Sink
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		cases: p.Repository,
		audit: p.Audit,
	}
}

// Investigate applies an investigator's resolution to an abuse case. Returns
// true only when both the status mutation and the audit entry committed;
// any failure leaves the case untouched.
func (s *Service) Investigate(ctx context.Context, abuseID, investigatorID, resolution string, status CaseStatus) bool {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("abuse_id", abuseID),
		zap.String("investigator_id", investigatorID),
	)

	if !ValidStatus(status) {
		zapLog.Warn("rejected investigation with unknown status", zap.String("status", string(status)))
		return false
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cases := s.cases.WithTrx(tx)

		detection, err := cases.GetByID(ctx, abuseID)
		if err != nil {
			return err
		}

		now := time.Now()
		detection.Status = status
		detection.InvestigatedBy = investigatorID
		detection.Resolution = resolution
		detection.ResolvedAt = &now

		if err := cases.UpdateResolution(ctx, detection); err != nil {
			return err
		}

		return s.audit.WithTrx(tx).Append(ctx, audit.Entry{
			ActorID:  investigatorID,
			Action:   auditActionInvestigate,
			TargetID: abuseID,
			Detail: map[string]any{
				"status":     string(status),
				"resolution": resolution,
				"abuse_type": string(detection.AbuseType),
				"user_id":    detection.UserID,
			},
		})
	})
	if err != nil {
		zapLog.Error("failed to investigate abuse case", zap.Error(err))
		return false
	}

	investigationsTotal.WithLabelValues(string(status)).Inc()
	zapLog.Info("abuse case investigated", zap.String("status", string(status)))
	return true
}

var Module = fx.Module("abuse",
	fx.Provide(
		func(db *gorm.DB) Repository { return NewRepository(db) },
		NewRuleStage,
		NewPipeline,
		NewService,
	),
)
