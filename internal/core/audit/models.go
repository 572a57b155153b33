package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the plate pipeline.
const (
	ActionArtifactStored = "artifact_stored"
	ActionDetectionSaved = "detection_saved"
	ActionJobEnqueued    = "job_enqueued"
	ActionJobCancelled   = "job_cancelled"
)

// Entities the actions refer to.
const (
	EntityPlateArtifact = "plate_artifact"
	EntityDetection     = "plate_detection"
	EntityJob           = "job"
)

// AuditLog represents a system audit log entry
type AuditLog struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	// Action details
	Action   string `json:"action" gorm:"type:text;not null;index"` // artifact_stored, detection_saved, ...
	Entity   string `json:"entity" gorm:"type:text;not null;index"` // plate_artifact, plate_detection, job
	EntityID string `json:"entity_id" gorm:"type:text;index"`       // storage public ID or record ID
	Source   string `json:"source,omitempty" gorm:"type:text"`      // api, queue, job

	NewValue datatypes.JSON `json:"new_value,omitempty" gorm:"type:jsonb"`

	// Request metadata
	IPAddress string `json:"ip_address,omitempty" gorm:"type:text"`
	Endpoint  string `json:"endpoint,omitempty" gorm:"type:text"`

	Description string         `json:"description,omitempty" gorm:"type:text"`
	Metadata    datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook to generate UUID
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// AuditFilter represents filters for querying audit logs
type AuditFilter struct {
	Action    string
	Entity    string
	EntityID  string
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}

// AuditLogResponse represents paginated audit log response
type AuditLogResponse struct {
	Logs       []AuditLog `json:"logs"`
	TotalCount int64      `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}
