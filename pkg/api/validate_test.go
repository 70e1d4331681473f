package api

import (
	"strings"
	"testing"
)

func validClientConfig() ClientConfig {
	return ClientConfig{
		ClientName:        "acme",
		ClientDisplayName: "Acme Corp",
		ClientID:          "c-42",
		ProjectName:       "acme_pulse",
		ScheduleInterval:  "0 5 * * *",
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ClientConfig)
		wantErr string
	}{
		{"valid", func(*ClientConfig) {}, ""},
		{"missing client name", func(c *ClientConfig) { c.ClientName = "" }, "client_name"},
		{"missing display name", func(c *ClientConfig) { c.ClientDisplayName = " " }, "client_display_name"},
		{"missing client id", func(c *ClientConfig) { c.ClientID = "" }, "client_id"},
		{"missing project name", func(c *ClientConfig) { c.ProjectName = "" }, "project_name"},
		{"missing schedule", func(c *ClientConfig) { c.ScheduleInterval = "" }, "schedule_interval"},
		{"project name with space", func(c *ClientConfig) { c.ProjectName = "acme pulse" }, "must not contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validClientConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClientConfigValidate_ListsAllMissing(t *testing.T) {
	err := (&ClientConfig{}).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"client_name", "client_display_name", "client_id", "project_name", "schedule_interval"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %q in error, got %v", key, err)
		}
	}
}
