package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one persisted engine event. Seq preserves emission order.
type EventRecord struct {
	Seq        uint64           `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID        `gorm:"type:uuid;uniqueIndex"`
	Type       string           `gorm:"index;not null"`
	Module     string           `gorm:"index;not null"`
	Timestamp  int64            `gorm:"index"`
	Payload    string           `gorm:"not null"`
	Attributes []EventAttribute `gorm:"foreignKey:EventSeq;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
}

// EventAttribute indexes one attribute of an event so events can be looked
// up by party, asset or key.
type EventAttribute struct {
	ID       uint   `gorm:"primaryKey"`
	EventSeq uint64 `gorm:"index;not null"`
	Key      string `gorm:"column:attr_key;index:idx_attr_kv,priority:1;not null"`
	Value    string `gorm:"column:attr_value;index:idx_attr_kv,priority:2;not null"`
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &EventAttribute{})
}
