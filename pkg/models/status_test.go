package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    RegistrationStatus
		to      RegistrationStatus
		allowed bool
	}{
		{"pending to validating", RegistrationPending, RegistrationValidating, true},
		{"validating to active", RegistrationValidating, RegistrationActive, true},
		{"validating to failed", RegistrationValidating, RegistrationValidationFailed, true},
		{"active resets to pending on edit", RegistrationActive, RegistrationPending, true},
		{"failed resets to pending on edit", RegistrationValidationFailed, RegistrationPending, true},
		{"active to suspended", RegistrationActive, RegistrationSuspended, true},
		{"suspended to active", RegistrationSuspended, RegistrationActive, true},
		{"re-trigger from active", RegistrationActive, RegistrationValidating, true},
		{"pending cannot jump to active", RegistrationPending, RegistrationActive, false},
		{"suspended cannot validate", RegistrationSuspended, RegistrationValidating, false},
		{"anything archives", RegistrationValidationFailed, RegistrationArchived, true},
		{"archived is terminal", RegistrationArchived, RegistrationPending, false},
		{"archived stays archived", RegistrationArchived, RegistrationArchived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDeploymentTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    DeploymentStatus
		to      DeploymentStatus
		allowed bool
	}{
		{"pending to deploying", DeploymentPending, DeploymentDeploying, true},
		{"pending fails on build error", DeploymentPending, DeploymentFailed, true},
		{"deploying to running", DeploymentDeploying, DeploymentRunning, true},
		{"running to stopping", DeploymentRunning, DeploymentStopping, true},
		{"running to updating", DeploymentRunning, DeploymentUpdating, true},
		{"running to scaling", DeploymentRunning, DeploymentScaling, true},
		{"updating resolves to running", DeploymentUpdating, DeploymentRunning, true},
		{"updating resolves to failed", DeploymentUpdating, DeploymentFailed, true},
		{"stopping to stopped", DeploymentStopping, DeploymentStopped, true},
		{"restart from stopped", DeploymentStopped, DeploymentPending, true},
		{"restart from failed", DeploymentFailed, DeploymentPending, true},
		{"stopped cannot scale", DeploymentStopped, DeploymentScaling, false},
		{"pending cannot run directly", DeploymentPending, DeploymentRunning, false},
		{"stopped cannot stop again", DeploymentStopped, DeploymentStopping, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDeploymentPredicates(t *testing.T) {
	assert.True(t, DeploymentRunning.CanBeStopped())
	assert.True(t, DeploymentUpdating.CanBeStopped())
	assert.True(t, DeploymentScaling.CanBeStopped())
	assert.False(t, DeploymentStopped.CanBeStopped())

	assert.True(t, DeploymentStopped.CanBeRestarted())
	assert.True(t, DeploymentFailed.CanBeRestarted())
	assert.False(t, DeploymentRunning.CanBeRestarted())

	assert.True(t, DeploymentRunning.CanBeUpdated())
	assert.False(t, DeploymentScaling.CanBeUpdated())

	assert.True(t, DeploymentDeploying.IsActive())
	assert.False(t, DeploymentStopped.IsActive())
	assert.True(t, DeploymentFailed.IsFinal())
}

func TestHealthStatusPredicates(t *testing.T) {
	assert.True(t, HealthHealthy.IsOperational())
	assert.True(t, HealthDegraded.IsOperational())
	assert.False(t, HealthUnhealthy.IsOperational())
	assert.False(t, HealthStarting.IsOperational())

	assert.True(t, HealthUnhealthy.ShouldContinueMonitoring())
	assert.False(t, HealthShuttingDown.ShouldContinueMonitoring())
}

func TestApiTypeDiscovery(t *testing.T) {
	assert.True(t, ApiTypeRestOpenAPI.SupportsAutoDiscovery())
	assert.True(t, ApiTypeGraphQL.SupportsAutoDiscovery())
	assert.True(t, ApiTypeSoap.SupportsAutoDiscovery())
	assert.True(t, ApiTypeGrpc.SupportsAutoDiscovery())
	assert.False(t, ApiTypeRestGeneric.SupportsAutoDiscovery())
	assert.False(t, ApiTypeCustom.SupportsAutoDiscovery())
}
