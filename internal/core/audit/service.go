package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Logger is what the pipeline records events through.
type Logger interface {
	LogAction(ctx context.Context, action, entity, entityID string, metadata interface{}) error
}

// Service provides audit logging functionality. Entries are never deleted.
type Service struct {
	db *gorm.DB
}

// NewService creates a new audit service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Log creates a new audit log entry
func (s *Service) Log(ctx context.Context, entry *AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// LogAction creates an audit log with basic action information
func (s *Service) LogAction(ctx context.Context, action, entity, entityID string, metadata interface{}) error {
	meta, err := toJSON(metadata)
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to serialize audit metadata")
	}

	entry := &AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Metadata: meta,
	}
	if src, ok := SourceFrom(ctx); ok {
		entry.Source = src
	}
	return s.Log(ctx, entry)
}

// GetLogs retrieves audit logs with filtering
func (s *Service) GetLogs(ctx context.Context, filter AuditFilter) (*AuditLogResponse, error) {
	query := s.db.WithContext(ctx).Model(&AuditLog{})

	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Entity != "" {
		query = query.Where("entity = ?", filter.Entity)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	offset := (filter.Page - 1) * filter.PageSize

	var logs []AuditLog
	if err := query.
		Order("created_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}

	return &AuditLogResponse{
		Logs:       logs,
		TotalCount: totalCount,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages(totalCount, filter.PageSize),
	}, nil
}

// GetEntityHistory retrieves all events for a specific entity
func (s *Service) GetEntityHistory(ctx context.Context, entity, entityID string) ([]AuditLog, error) {
	var logs []AuditLog
	err := s.db.WithContext(ctx).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get entity history: %w", err)
	}
	return logs, nil
}

// NoopLogger drops every event. Used when no database is configured.
type NoopLogger struct{}

func (NoopLogger) LogAction(ctx context.Context, action, entity, entityID string, metadata interface{}) error {
	return nil
}

type sourceKey struct{}

// WithSource tags ctx with where a request came from (api, queue, job).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the tag set by WithSource.
func SourceFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(sourceKey{}).(string)
	return s, ok && s != ""
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return page, size
}

func totalPages(total int64, size int) int {
	pages := int(total) / size
	if int(total)%size > 0 {
		pages++
	}
	return pages
}

// Helper function to convert value to JSON
func toJSON(value interface{}) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}

	bytes, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return datatypes.JSON(bytes), nil
}
