// Package journal persists the dependency engine's instrumentation events
// to a gorm-backed store, so a completed run's access history can be
// inspected after the fact instead of only observed live.
package journal

import "time"

// EventRecord is a single instrumentation event, flattened into one row
// wide enough to cover every InstrumentationSink method. Fields irrelevant
// to a given EventType are left at their zero value.
type EventRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventType string    `gorm:"column:event_type;type:varchar(32);index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`

	TaskLabel string `gorm:"column:task_label;type:varchar(255);index"`
	PeerLabel string `gorm:"column:peer_label;type:varchar(255)"` // the "prev"/"next" task for Linked/Unlinked

	RegionStart  uint64 `gorm:"column:region_start"`
	RegionLength uint64 `gorm:"column:region_length"`

	// Fragmented carries the original region in RegionStart/RegionLength and
	// the fragment it produced in IntoStart/IntoLength.
	IntoStart  uint64 `gorm:"column:into_start"`
	IntoLength uint64 `gorm:"column:into_length"`

	Kind    string `gorm:"column:kind;type:varchar(16)"`
	OldKind string `gorm:"column:old_kind;type:varchar(16)"`

	ReadSatisfied    bool `gorm:"column:read_satisfied"`
	WriteSatisfied   bool `gorm:"column:write_satisfied"`
	TopmostSatisfied bool `gorm:"column:topmost_satisfied"`
}

// TableName returns the table name for EventRecord.
func (EventRecord) TableName() string {
	return "depengine_events"
}
