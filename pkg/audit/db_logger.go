package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/flock/pkg/database"
)

// DBLogger implements audit logging to the audit_logs table. The table is
// created by the schema migrations.
type DBLogger struct {
	db database.DBTX
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db database.DBTX) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON, changesJSON sql.NullString

	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	if event.Changes != nil {
		b, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changesJSON = sql.NullString{String: string(b), Valid: true}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = database.Now()
	}

	query := `
		INSERT INTO audit_logs (
			id, timestamp, event_type, status,
			tenant_id, user_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12, $13
		)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		database.NullIfEmpty(event.TenantID), database.NullIfEmpty(event.UserID),
		database.NullIfEmpty(string(event.ResourceType)), database.NullIfEmpty(event.ResourceID), database.NullIfEmpty(event.RequestID),
		database.NullIfEmpty(event.Message), database.NullIfEmpty(event.ErrorMessage), metadataJSON, changesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns a tenant's audit events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required to search audit logs")
	}

	query := `
		SELECT
			id, timestamp, event_type, status,
			tenant_id, user_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		FROM audit_logs
		WHERE tenant_id = $1
	`
	args := []interface{}{filter.TenantID}
	argCount := 2

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, filter.StartTime.UTC())
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, filter.EndTime.UTC())
		argCount++
	}

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argCount)
		args = append(args, string(filter.EventType))
		argCount++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(filter.Status))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var (
			eventType, status                                 string
			tenantID, userID, resourceType, resourceID, reqID sql.NullString
			message, errMessage, metadataJSON, changesJSON    sql.NullString
		)

		err := rows.Scan(
			&event.ID, &event.Timestamp, &eventType, &status,
			&tenantID, &userID,
			&resourceType, &resourceID, &reqID,
			&message, &errMessage, &metadataJSON, &changesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		event.TenantID = tenantID.String
		event.UserID = userID.String
		event.ResourceType = ResourceType(resourceType.String)
		event.ResourceID = resourceID.String
		event.RequestID = reqID.String
		event.Message = message.String
		event.ErrorMessage = errMessage.String
		event.Timestamp = event.Timestamp.UTC()

		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		if changesJSON.Valid {
			event.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changesJSON.String), event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Purge deletes events older than before and returns how many were removed
func (l *DBLogger) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit logs: %w", err)
	}
	return n, nil
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// the connection is shared and closed by its owner
	return nil
}
