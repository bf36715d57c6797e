package telemetry_test

import (
	"context"
	"testing"

	"github.com/agentoven/legion/internal/config"
	"github.com/agentoven/legion/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"flag off", config.TelemetryConfig{Enabled: false, OTLPEndpoint: "localhost:4317"}},
		{"no endpoint", config.TelemetryConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := telemetry.Init(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}
