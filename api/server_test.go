package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grckit/approvalflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *approvalflow.Engine, *approvalflow.WorkflowDefinition) {
	t.Helper()

	store := approvalflow.NewMemoryStore()
	authorizer := approvalflow.NewStaticAuthorizer().
		Grant("alice", "ROLE_RISK_OWNER").
		Grant("bob", "ROLE_ADMIN")

	engine := approvalflow.NewEngine(store,
		approvalflow.WithEngineAuthorizer(authorizer),
	)

	def := approvalflow.NewBuilder("acme", "Risk Sign-Off", "risk").
		Step("Owner Review").
		Role("ROLE_RISK_OWNER").
		SLA(48 * time.Hour).
		Step("Admin Approval").
		Role("ROLE_ADMIN").
		Build()
	require.NoError(t, engine.RegisterDefinition(context.Background(), def))

	server := httptest.NewServer(NewServer(engine, nil).Mux())
	t.Cleanup(server.Close)

	return server, engine, def
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func startInstance(t *testing.T, server *httptest.Server, def *approvalflow.WorkflowDefinition, entityID int64) int64 {
	t.Helper()

	body := fmt.Sprintf(`{"definition_id":%q,"entity_type":"risk","entity_id":%d,"initiated_by":"carol"}`, def.ID, entityID)
	resp := postJSON(t, server.URL+"/api/instances", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result StartInstanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	return result.InstanceID
}

func TestStartAndGetInstance(t *testing.T) {
	server, _, def := newTestServer(t)

	instanceID := startInstance(t, server, def, 42)

	resp, err := http.Get(fmt.Sprintf("%s/api/instances/%d", server.URL, instanceID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var instance approvalflow.WorkflowInstance
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instance))
	assert.Equal(t, approvalflow.StatusInProgress, instance.Status)
	require.NotNil(t, instance.CurrentStep)
	assert.Equal(t, 1, *instance.CurrentStep)
}

func TestDuplicateStartReturnsConflict(t *testing.T) {
	server, _, def := newTestServer(t)

	startInstance(t, server, def, 42)

	body := fmt.Sprintf(`{"definition_id":%q,"entity_type":"risk","entity_id":42,"initiated_by":"dave"}`, def.ID)
	resp := postJSON(t, server.URL+"/api/instances", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApproveFlow(t *testing.T) {
	server, _, def := newTestServer(t)
	instanceID := startInstance(t, server, def, 42)

	resp := postJSON(t, fmt.Sprintf("%s/api/instances/%d/approve", server.URL, instanceID),
		`{"actor_id":"alice","comment":"ok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision DecisionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, approvalflow.StatusInProgress, decision.Status)

	resp = postJSON(t, fmt.Sprintf("%s/api/instances/%d/approve", server.URL, instanceID),
		`{"actor_id":"bob"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, approvalflow.StatusCompleted, decision.Status)
}

func TestUnauthorizedApproverGets403(t *testing.T) {
	server, _, def := newTestServer(t)
	instanceID := startInstance(t, server, def, 42)

	resp := postJSON(t, fmt.Sprintf("%s/api/instances/%d/approve", server.URL, instanceID),
		`{"actor_id":"mallory"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRejectWithoutCommentGets400(t *testing.T) {
	server, _, def := newTestServer(t)
	instanceID := startInstance(t, server, def, 42)

	resp := postJSON(t, fmt.Sprintf("%s/api/instances/%d/reject", server.URL, instanceID),
		`{"actor_id":"alice","comment":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, fmt.Sprintf("%s/api/instances/%d/reject", server.URL, instanceID),
		`{"actor_id":"alice","comment":"incomplete"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision DecisionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, approvalflow.StatusRejected, decision.Status)
}

func TestDecisionOnTerminalInstanceGets409(t *testing.T) {
	server, _, def := newTestServer(t)
	instanceID := startInstance(t, server, def, 42)

	resp := postJSON(t, fmt.Sprintf("%s/api/instances/%d/reject", server.URL, instanceID),
		`{"actor_id":"alice","comment":"stop"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, fmt.Sprintf("%s/api/instances/%d/approve", server.URL, instanceID),
		`{"actor_id":"alice"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownInstanceGets404(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/instances/9999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2 := postJSON(t, server.URL+"/api/instances/9999/approve", `{"actor_id":"alice"}`)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestInvalidInstanceIDGets400(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/instances/not-a-number")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	server, _, def := newTestServer(t)
	instanceID := startInstance(t, server, def, 42)

	resp := postJSON(t, fmt.Sprintf("%s/api/instances/%d/approve", server.URL, instanceID),
		`{"actor_id":"alice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	histResp, err := http.Get(fmt.Sprintf("%s/api/instances/%d/history", server.URL, instanceID))
	require.NoError(t, err)
	defer histResp.Body.Close()
	require.Equal(t, http.StatusOK, histResp.StatusCode)

	var history []approvalflow.HistoryEntry
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, approvalflow.ActionApproved, history[0].Action)
}

func TestPendingApprovalsEndpoint(t *testing.T) {
	server, _, def := newTestServer(t)
	startInstance(t, server, def, 42)

	resp, err := http.Get(server.URL + "/api/approvals/pending?actor_id=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending []approvalflow.WorkflowInstance
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	assert.Len(t, pending, 1)

	// actor_id is mandatory.
	resp2, err := http.Get(server.URL + "/api/approvals/pending")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRegisterDefinitionEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/workflows", `{
		"tenant_id": "acme",
		"name": "Policy Review",
		"entity_type": "policy",
		"is_active": true,
		"steps": [{"order": 1, "name": "Legal Review", "approver_role": "ROLE_LEGAL"}]
	}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Validation failures map to 400.
	resp = postJSON(t, server.URL+"/api/workflows", `{
		"tenant_id": "acme",
		"name": "",
		"entity_type": "policy",
		"is_active": true
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	listResp, err := http.Get(server.URL + "/api/workflows?tenant_id=acme")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var defs []approvalflow.WorkflowDefinition
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&defs))
	assert.Len(t, defs, 2)
}

func TestStatsUnconfiguredGets501(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
