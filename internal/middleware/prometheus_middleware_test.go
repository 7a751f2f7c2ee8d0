package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromRoute(t *testing.T) {
	cases := []struct {
		method string
		route  string
		want   string
	}{
		{"POST", "/api/agents/:id/move", "move"},
		{"GET", "/api/agents/:id/nearby", "nearby"},
		{"POST", "/api/agents/:id/enter", "enter"},
		{"POST", "/api/agents/:id/exit", "exit"},
		{"POST", "/api/agents/:id/follow", "follow"},
		{"DELETE", "/api/agents/:id/follow", "unfollow"},
		{"POST", "/api/agents", "register"},
		{"GET", "/api/agents/:id", "get_agent"},
		{"POST", "/api/structures", "build"},
		{"PATCH", "/api/structures/:id", "patch_structure"},
		{"DELETE", "/api/structures/:id", "remove_structure"},
		{"GET", "/api/structures/:id", "get_structure"},
		{"POST", "/api/admin/snapshots", "snapshot"},
		{"GET", "/api/admin/webhooks", "webhook"},
		{"GET", "/api/stats", "stats"},
		{"GET", "/health", "other"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, operationFromRoute(tc.method, tc.route),
			"%s %s", tc.method, tc.route)
	}
}
