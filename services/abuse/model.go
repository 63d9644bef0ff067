package abuse

import (
	"time"

	"gorm.io/datatypes"
)

// Type classifies a flagged vote.
type Type string

const (
	TypeSelfVoteAttempt        Type = "SELF_VOTE_ATTEMPT"
	TypeSuspiciousAccountAge   Type = "SUSPICIOUS_ACCOUNT_AGE"
	TypeExcessiveVotingRate    Type = "EXCESSIVE_VOTING_RATE"
	TypeIPClustering           Type = "IP_CLUSTERING"
	TypeCoordinatedVoting      Type = "COORDINATED_VOTING"
	TypeRapidVoting            Type = "RAPID_VOTING"
	TypeTemporalPatternAbuse   Type = "TEMPORAL_PATTERN_ABUSE"
	TypeVoteManipulation       Type = "VOTE_MANIPULATION"
	TypeDeviceFingerprintMatch Type = "DEVICE_FINGERPRINT_MATCH"
)

// Severity grades a flagged case.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// CaseStatus is the investigation state of a flagged case. Transitions are
// driven only by the investigation workflow; detections never self-resolve.
type CaseStatus string

const (
	StatusPending       CaseStatus = "PENDING"
	StatusInvestigating CaseStatus = "INVESTIGATING"
	StatusConfirmed     CaseStatus = "CONFIRMED"
	StatusFalsePositive CaseStatus = "FALSE_POSITIVE"
	StatusResolved      CaseStatus = "RESOLVED"
)

// ValidStatus reports whether s is a known investigation status.
func ValidStatus(s CaseStatus) bool {
	switch s {
	case StatusPending, StatusInvestigating, StatusConfirmed, StatusFalsePositive, StatusResolved:
		return true
	default:
		return false
	}
}

// Detection is one flagged, unrewarded vote. Created by the detection
// pipeline's caller with status PENDING; mutated only by the investigation
// workflow.
type Detection struct {
	ID             string         `gorm:"column:id;primaryKey"`
	UserID         string         `gorm:"column:user_id;index"`
	AbuseType      Type           `gorm:"column:abuse_type;type:varchar(40)"`
	Severity       Severity       `gorm:"column:severity;type:varchar(10)"`
	Status         CaseStatus     `gorm:"column:status;type:varchar(20);index"`
	DetectedAt     time.Time      `gorm:"column:detected_at;index"`
	InvestigatedBy string         `gorm:"column:investigated_by"`
	Resolution     string         `gorm:"column:resolution;type:text"`
	ResolvedAt     *time.Time     `gorm:"column:resolved_at"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

func (Detection) TableName() string { return "vote_abuse_detections" }

// CustomRule is an operator-defined detection rule evaluated after the
// built-in checks. The expression is CEL over the signal snapshot variables.
type CustomRule struct {
	RuleID     string    `gorm:"column:rule_id;primaryKey"`
	Name       string    `gorm:"column:name"`
	Expression string    `gorm:"column:expression;type:text"`
	AbuseType  Type      `gorm:"column:abuse_type;type:varchar(40)"`
	Severity   Severity  `gorm:"column:severity;type:varchar(10)"`
	Active     bool      `gorm:"column:active;index"`
	Priority   int32     `gorm:"column:priority"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (CustomRule) TableName() string { return "abuse_custom_rules" }

// Verdict is the pipeline's positive result: what was matched and the signal
// values that triggered it, kept for forensic replay.
type Verdict struct {
	Type     Type
	Severity Severity
	Metadata map[string]any
}
