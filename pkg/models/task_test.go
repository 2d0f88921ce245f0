package models

import "testing"

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want Environment
	}{
		{"dev", EnvDev},
		{"development", EnvDev},
		{"staging", EnvStaging},
		{"local", EnvLocal},
		{"production", EnvProduction},
		{"", EnvProduction},
		{"prod-eu-west", EnvProduction},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseEnvironment(tt.in); got != tt.want {
				t.Errorf("ParseEnvironment(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnvironmentIsProduction(t *testing.T) {
	if !EnvProduction.IsProduction() {
		t.Error("production not recognized")
	}
	if !Environment("").IsProduction() {
		t.Error("empty environment must count as production")
	}
	if EnvDev.IsProduction() || EnvStaging.IsProduction() || EnvLocal.IsProduction() {
		t.Error("non-production environment reported as production")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskQueued, false},
		{TaskRunning, false},
		{TaskAwaitingApproval, false},
		{TaskAwaitingHuman, false},
		{TaskSucceeded, true},
		{TaskFailed, true},
		{TaskStopped, true},
		{TaskBudgetExhausted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
