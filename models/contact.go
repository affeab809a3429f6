package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// Contact is a recipient. Contact lists and their import pipelines live
// outside this engine; only the fields the engine renders into messages and
// matches inbound events against are modeled here.
type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_contacts_uuid" json:"uuid"`
	ListID      uint      `gorm:"not null;index:idx_contacts_list_id" json:"list_id"`
	Name        string    `gorm:"size:255" json:"name"`
	PhoneNumber string    `gorm:"size:32;not null;index:idx_contacts_phone_number" json:"phone_number"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Contact) TableName() string {
	return "contacts"
}

// BeforeCreate is called before creating a new record
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// ContactFilter represents filter criteria for contacts
type ContactFilter struct {
	ID          *uint   `json:"id,omitempty"`
	ListID      *uint   `json:"list_id,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}
