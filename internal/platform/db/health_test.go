package db

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHealthResponse_HealthyShape(t *testing.T) {
	resp := HealthResponse{
		Service: "kitflow",
		Status:  "healthy",
		Pool: &PoolStats{
			TotalConns:      10,
			IdleConns:       5,
			AcquiredConns:   5,
			MaxConns:        20,
			AcquireCount:    100,
			AcquireDuration: "1.5s",
			Healthy:         true,
		},
	}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(b)
	for _, key := range []string{`"service":"kitflow"`, `"status":"healthy"`, `"total_conns":10`, `"healthy":true`} {
		if !strings.Contains(body, key) {
			t.Errorf("body missing %s: %s", key, body)
		}
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("healthy payload must omit error: %s", body)
	}
}

func TestHealthResponse_UnhealthyShape(t *testing.T) {
	resp := HealthResponse{
		Service: "kitflow",
		Status:  "unhealthy",
		Error:   "dial tcp: connection refused",
		Pool:    &PoolStats{MaxConns: 20},
	}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(b)
	if !strings.Contains(body, `"status":"unhealthy"`) || !strings.Contains(body, `"error":"dial tcp: connection refused"`) {
		t.Errorf("unhealthy payload incomplete: %s", body)
	}
	if !strings.Contains(body, `"healthy":false`) {
		t.Errorf("pool snapshot must be marked unhealthy: %s", body)
	}
}
