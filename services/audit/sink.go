package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Log is one append-only audit record.
type Log struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ActorID   string         `gorm:"column:actor_id;index"`
	Action    string         `gorm:"column:action;type:varchar(50);index"`
	TargetID  string         `gorm:"column:target_id;index"`
	Detail    datatypes.JSON `gorm:"column:detail"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Log) TableName() string { return "audit_logs" }

// Entry is the caller-facing audit payload.
type Entry struct {
	ActorID  string
	Action   string
	TargetID string
	Detail   map[string]any
}

// Sink is the audit collaborator. WithTrx binds the sink to the caller's
// transaction so the audit write shares the caller's commit or rollback.
type Sink interface {
	WithTrx(tx *gorm.DB) Sink
	Append(ctx context.Context, entry Entry) error
}

type gormSink struct {
	db   *gorm.DB
	node *snowflake.Node
}

type SinkParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewSink(p SinkParams) Sink {
	return &gormSink{db: p.DB, node: p.Node}
}

func (s *gormSink) WithTrx(tx *gorm.DB) Sink {
	if tx == nil {
		return s
	}
	return &gormSink{db: tx, node: s.node}
}

func (s *gormSink) Append(ctx context.Context, entry Entry) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Create(&Log{
		ID:        s.node.Generate().String(),
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		TargetID:  entry.TargetID,
		Detail:    datatypes.JSON(detail),
		CreatedAt: time.Now(),
	}).Error
}

var Module = fx.Module("audit",
	fx.Provide(NewSink),
)
