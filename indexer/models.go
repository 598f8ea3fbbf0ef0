package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed event in emission order.
type EventRecord struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Seq        uint64           `gorm:"uniqueIndex"`
	Type       string           `gorm:"index;not null"`
	Attributes []EventAttribute `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
}

// EventAttribute is a single key/value pair of an event, indexed so events
// can be looked up by the addresses they mention.
type EventAttribute struct {
	ID      uint      `gorm:"primaryKey"`
	EventID uuid.UUID `gorm:"type:uuid;index"`
	Key     string    `gorm:"index:idx_attr_key_value"`
	Value   string    `gorm:"index:idx_attr_key_value"`
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &EventAttribute{})
}

// Attr returns the value stored under key, or "".
func (r *EventRecord) Attr(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
