package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaintenanceWindowContains(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		window *MaintenanceWindow
		want   bool
	}{
		{"nil window", nil, false},
		{"inside both bounds", &MaintenanceWindow{StartsAt: &past, EndsAt: &future}, true},
		{"before start", &MaintenanceWindow{StartsAt: &future, EndsAt: nil}, false},
		{"after end", &MaintenanceWindow{StartsAt: nil, EndsAt: &past}, false},
		{"open start", &MaintenanceWindow{StartsAt: nil, EndsAt: &future}, true},
		{"open end", &MaintenanceWindow{StartsAt: &past, EndsAt: nil}, true},
		{"both bounds open", &MaintenanceWindow{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(now))
		})
	}
}

func TestInMaintenanceWithoutWindow(t *testing.T) {
	svc := &Service{ID: "svc-1"}
	assert.False(t, svc.InMaintenance(time.Now()))
}
