package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// EventRecord is an immutable entry of the exercise audit trail.
type EventRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Action     string    `gorm:"column:action;index:idx_exaudit_action_time,priority:1;not null"`
	ExerciseID string    `gorm:"column:exercise_id;index:idx_exaudit_exercise_time,priority:1"`
	Version    int       `gorm:"column:version"`
	Title      string    `gorm:"column:title"`
	Type       string    `gorm:"column:exercise_type"`
	RequestID  string    `gorm:"column:request_id;index"`
	Detail     JSONAny   `gorm:"column:detail;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_exaudit_action_time,priority:2;index:idx_exaudit_exercise_time,priority:2"`
}

// TableName returns the GORM table name.
func (EventRecord) TableName() string { return "exercise_audit_events" }

// EventView is the JSON form of an EventRecord served by the API and the CLI.
type EventView struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ExerciseID string         `json:"exerciseId,omitempty"`
	Version    int            `json:"version,omitempty"`
	Title      string         `json:"title,omitempty"`
	Type       string         `json:"type,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// View converts the record to its JSON form.
func (rec EventRecord) View() EventView {
	return EventView{
		ID:         rec.ID,
		Action:     rec.Action,
		ExerciseID: rec.ExerciseID,
		Version:    rec.Version,
		Title:      rec.Title,
		Type:       rec.Type,
		RequestID:  rec.RequestID,
		Detail:     map[string]any(rec.Detail),
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
