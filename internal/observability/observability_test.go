package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLogLevel(" DEBUG "))
	require.Equal(t, zerolog.WarnLevel, ParseLogLevel("warn"))
	require.Equal(t, zerolog.InfoLevel, ParseLogLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLogLevel("loud"))
}

func TestConfigureLogging_RejectsUnknownFormat(t *testing.T) {
	require.Error(t, ConfigureLogging("info", "xml"))
	require.NoError(t, ConfigureLogging("info", "json"))
}

func TestReadiness_WaitsForEveryGate(t *testing.T) {
	h := NewHealthChecker(GateRecovery, GateIntake)

	readyz := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := readyz()
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.ElementsMatch(t, []interface{}{GateIntake, GateRecovery}, body["waiting_on"])

	h.Mark(GateRecovery, true)
	h.Mark(GateIntake, true)
	code, _ = readyz()
	require.Equal(t, http.StatusOK, code)

	h.Mark(GateIntake, false)
	code, body = readyz()
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, []interface{}{GateIntake}, body["waiting_on"])
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CoreSequence.Set(7)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	require.Panics(t, func() { NewMetrics(reg) })
}
