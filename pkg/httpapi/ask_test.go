package httpapi

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
)

func testCouncil() *config.Council {
	return &config.Council{
		Name: "Test Council",
		Personas: []config.Persona{
			{ID: "a", DisplayName: "Advisor A", Role: "Engineer"},
			{ID: "b", DisplayName: "Advisor B", Role: "Strategist"},
		},
		Routing:           config.RoutingPolicy{MinAdvisors: 1, MaxAdvisors: 2, DefaultAdvisors: 2},
		AvailableBackends: []string{"model-a", "model-b"},
	}
}

func testDeps() Deps {
	registry := backend.NewRegistry(
		&backend.FakeBackend{BackendID: "model-a", Result: backend.CompleteResult{Content: "answer from A"}},
		&backend.FakeBackend{BackendID: "model-b", Result: backend.CompleteResult{Content: "answer from B"}},
	)
	return Deps{
		Registry: registry,
		Global: &config.GlobalConfig{
			Chairman:   "model-a",
			TitleModel: "model-a",
			Deliberation: config.DeliberationConfig{
				Temperatures: config.Temperatures{Stage1: 0.5, Stage2: 0.3, Stage3: 0.7},
			},
		},
		Councils: map[string]*config.Council{"test": testCouncil()},
	}
}

// TestHandleAsk_ChatMode exercises the SSE endpoint end to end with
// force_direct set (no Store/Board wired), asserting the event stream
// starts with execution_mode and ends with done.
func TestHandleAsk_ChatMode(t *testing.T) {
	server := NewServer(testDeps())
	ts := httptest.NewServer(server.Engine())
	defer ts.Close()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Post(ts.URL+"/api/v1/councils/test/ask", "application/json",
		strings.NewReader(`{"question":"what should I build next?","force_direct":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Conversation-Id"))

	var eventTypes []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventTypes = append(eventTypes, strings.TrimPrefix(line, "event: "))
		}
	}
	require.NotEmpty(t, eventTypes)
	assert.Equal(t, "execution_mode", eventTypes[0])
	assert.Equal(t, "done", eventTypes[len(eventTypes)-1])
}

func TestHandleAsk_UnknownCouncil(t *testing.T) {
	server := NewServer(testDeps())
	ts := httptest.NewServer(server.Engine())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/councils/missing/ask", "application/json",
		strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleListCouncils(t *testing.T) {
	server := NewServer(testDeps())
	ts := httptest.NewServer(server.Engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/councils")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(testDeps())
	ts := httptest.NewServer(server.Engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
