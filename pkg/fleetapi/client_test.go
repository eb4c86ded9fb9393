package fleetapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

func TestCurrentState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/systems/sys-001/state", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire.TelemetryPayload{
			SystemID:     "sys-001",
			Timestamp:    1700000000000,
			Measurements: map[string]float64{"soc": 42.5, "power": -12.3},
			Flags:        []string{"charging"},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Token: "test-token"})
	require.NoError(t, err)

	snap, err := client.CurrentState(context.Background(), "sys-001")
	require.NoError(t, err)

	assert.Equal(t, "sys-001", snap.SystemID)
	assert.Equal(t, int64(1700000000000), snap.Timestamp.UnixMilli())
	soc, ok := snap.Measurement("soc")
	require.True(t, ok)
	assert.Equal(t, 42.5, soc)
	assert.True(t, snap.HasFlag("charging"))
}

func TestCurrentStateRejectsInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Missing systemId.
		w.Write([]byte(`{"timestamp":1700000000000,"measurements":{}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.CurrentState(context.Background(), "sys-001")
	require.Error(t, err)

	var protoErr *wire.ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

func TestAlertsWithFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/alerts", r.URL.Path)
		assert.Equal(t, "sys-001", r.URL.Query().Get("systemId"))
		assert.Equal(t, "high", r.URL.Query().Get("minSeverity"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]wire.Alert{
			{ID: "alert-2", SystemID: "sys-001", Severity: wire.SeverityCritical, Title: "cell overtemp", CreatedAt: 1700000002000},
			{ID: "alert-1", SystemID: "sys-001", Severity: wire.SeverityHigh, Title: "soc low", CreatedAt: 1700000001000},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	alerts, err := client.Alerts(context.Background(), AlertFilter{
		SystemID:    "sys-001",
		MinSeverity: wire.SeverityHigh,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "alert-2", alerts[0].ID)
	assert.Equal(t, wire.SeverityCritical, alerts[0].Severity)
}

func TestAcknowledgeAlert(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, client.AcknowledgeAlert(context.Background(), "alert-1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/alerts/alert-1/ack", gotPath)
}

func TestNonSuccessStatusReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"unknown system"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.CurrentState(context.Background(), "sys-missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unknown system")
}

func TestSetTokenAppliesToSubsequentRequests(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Token: "old"})
	require.NoError(t, err)

	client.SetToken("fresh")
	_, err = client.Alerts(context.Background(), AlertFilter{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", gotAuth)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
