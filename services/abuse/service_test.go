package abuse

import (
	"context"
	"errors"
	"testing"
	"time"

	"promptmarket-rewards/services/audit"
	"promptmarket-rewards/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockSink struct {
	append func(ctx context.Context, entry audit.Entry) error
}

func (m *mockSink) WithTrx(tx *gorm.DB) audit.Sink { return m }

func (m *mockSink) Append(ctx context.Context, entry audit.Entry) error {
	return m.append(ctx, entry)
}

func newInvestigationService(t *testing.T, sink audit.Sink) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Detection{}, &audit.Log{})

	if sink == nil {
		node, err := snowflake.NewNode(1)
		require.NoError(t, err)
		sink = audit.NewSink(audit.SinkParams{DB: db, Node: node})
	}

	svc := NewService(ServiceParams{
		DB:         db,
		Repository: NewRepository(db),
		Audit:      sink,
	})

	return svc, db
}

func seedDetection(t *testing.T, db *gorm.DB) *Detection {
	t.Helper()

	detection := &Detection{
		ID:         "case-1",
		UserID:     "voter-1",
		AbuseType:  TypeRapidVoting,
		Severity:   SeverityHigh,
		Status:     StatusPending,
		DetectedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(detection).Error)
	return detection
}

func TestService_Investigate(t *testing.T) {
	svc, db := newInvestigationService(t, nil)
	seedDetection(t, db)

	ok := svc.Investigate(context.Background(), "case-1", "admin-1", "verified as human burst", StatusFalsePositive)
	require.True(t, ok)

	var updated Detection
	require.NoError(t, db.First(&updated, "id = ?", "case-1").Error)
	require.Equal(t, StatusFalsePositive, updated.Status)
	require.Equal(t, "admin-1", updated.InvestigatedBy)
	require.Equal(t, "verified as human burst", updated.Resolution)
	require.NotNil(t, updated.ResolvedAt)

	var logs []audit.Log
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "abuse_case.investigate", logs[0].Action)
	require.Equal(t, "admin-1", logs[0].ActorID)
	require.Equal(t, "case-1", logs[0].TargetID)
}

func TestService_InvestigateRollsBackWhenAuditFails(t *testing.T) {
	sink := &mockSink{
		append: func(ctx context.Context, entry audit.Entry) error {
			return errors.New("audit store unavailable")
		},
	}
	svc, db := newInvestigationService(t, sink)
	seedDetection(t, db)

	ok := svc.Investigate(context.Background(), "case-1", "admin-1", "confirmed bot", StatusConfirmed)
	require.False(t, ok)

	// The status mutation must not survive the failed audit write.
	var unchanged Detection
	require.NoError(t, db.First(&unchanged, "id = ?", "case-1").Error)
	require.Equal(t, StatusPending, unchanged.Status)
	require.Empty(t, unchanged.InvestigatedBy)
	require.Nil(t, unchanged.ResolvedAt)
}

func TestService_InvestigateMissingCase(t *testing.T) {
	svc, db := newInvestigationService(t, nil)

	ok := svc.Investigate(context.Background(), "no-such-case", "admin-1", "n/a", StatusResolved)
	require.False(t, ok)

	var logs []audit.Log
	require.NoError(t, db.Find(&logs).Error)
	require.Empty(t, logs)
}

func TestService_InvestigateRejectsUnknownStatus(t *testing.T) {
	svc, db := newInvestigationService(t, nil)
	seedDetection(t, db)

	ok := svc.Investigate(context.Background(), "case-1", "admin-1", "typo", CaseStatus("CLOSED"))
	require.False(t, ok)

	var unchanged Detection
	require.NoError(t, db.First(&unchanged, "id = ?", "case-1").Error)
	require.Equal(t, StatusPending, unchanged.Status)
}
