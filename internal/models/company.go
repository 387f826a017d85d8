package models

import "time"

// Company is a tenant. The invitation code is assigned once, at approval.
type Company struct {
	BaseModel

	Name           string     `gorm:"not null" json:"name"`
	Description    string     `json:"description"`
	Status         Status     `gorm:"type:smallint;not null;index" json:"status_id"`
	InvitationCode *string    `gorm:"uniqueIndex;size:32" json:"invitation_code,omitempty"`
	ManagerID      *string    `gorm:"type:uuid;uniqueIndex" json:"manager_id"`
	ApprovedAt     *time.Time `json:"approved_at"`
}
