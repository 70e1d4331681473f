package api

import (
	"fmt"
	"strings"
)

// Validate checks that the client configuration carries every required key.
func (c *ClientConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"client_name", c.ClientName},
		{"client_display_name", c.ClientDisplayName},
		{"client_id", c.ClientID},
		{"project_name", c.ProjectName},
		{"schedule_interval", c.ScheduleInterval},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}

	if strings.ContainsAny(c.ProjectName, " /") {
		return fmt.Errorf("project_name %q must not contain spaces or slashes", c.ProjectName)
	}

	return nil
}
