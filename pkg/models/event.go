package models

import "time"

// ResourceType identifies which entity a status change event refers to.
type ResourceType string

const (
	ResourceRegistration ResourceType = "registration"
	ResourceDeployment   ResourceType = "deployment"
)

// StatusChange is published on the status bus for every committed lifecycle
// transition. OldStatus and NewStatus hold the string form of the
// corresponding status enum; for health events they carry HealthStatus
// values and Message names the triggering condition.
type StatusChange struct {
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   string       `json:"resourceId"`
	OldStatus    string       `json:"oldStatus"`
	NewStatus    string       `json:"newStatus"`
	Timestamp    time.Time    `json:"timestamp"`
	Message      string       `json:"message,omitempty"`
}
