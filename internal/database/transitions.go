package database

import (
	"time"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// applyDeploymentTransition validates and applies a status change on dep,
// keeping the timestamp and error invariants: startedAt is set on entering
// RUNNING and cleared on STOPPED, stoppedAt is stamped on STOPPED, and
// errorMessage is non-empty exactly when the status is FAILED.
func applyDeploymentTransition(dep *models.McpServerDeployment, status models.DeploymentStatus, errorMessage string, now time.Time) error {
	if !dep.Status.CanTransitionTo(status) {
		return &InvalidTransitionError{
			Resource: models.ResourceDeployment,
			ID:       dep.ID,
			From:     string(dep.Status),
			To:       string(status),
		}
	}

	dep.Status = status
	dep.UpdatedAt = now

	switch status {
	case models.DeploymentRunning:
		if dep.StartedAt == nil {
			started := now
			dep.StartedAt = &started
		}
		dep.ErrorMessage = ""
	case models.DeploymentStopped:
		stopped := now
		dep.StoppedAt = &stopped
		dep.StartedAt = nil
		dep.ErrorMessage = ""
	case models.DeploymentFailed:
		dep.ErrorMessage = errorMessage
		dep.StartedAt = nil
	case models.DeploymentPending:
		// Restart path: previous error state is reset.
		dep.ErrorMessage = ""
		dep.StoppedAt = nil
	default:
		dep.ErrorMessage = ""
	}
	return nil
}

// applyRegistrationTransition validates and applies a status change on reg.
func applyRegistrationTransition(reg *models.ApiRegistration, status models.RegistrationStatus, now time.Time) error {
	if !reg.Status.CanTransitionTo(status) {
		return &InvalidTransitionError{
			Resource: models.ResourceRegistration,
			ID:       reg.ID,
			From:     string(reg.Status),
			To:       string(status),
		}
	}
	reg.Status = status
	reg.UpdatedAt = now
	return nil
}
