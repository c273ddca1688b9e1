package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/modelgate/modelgate/config"
	"github.com/modelgate/modelgate/core"
)

func newTestServer(t *testing.T, cacheCfg *config.SemanticCacheConfig) (*stack, *httptest.Server) {
	t.Helper()
	s := newStack(t, cacheCfg)
	srv := httptest.NewServer(NewServer(s.svc, s.reg, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCompletionEndpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]interface{}{
		"model_id": "m-primary",
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result CompletionResult
	decodeBody(t, resp, &result)
	if !result.Success || result.Response.Message.Content != "mock response" {
		t.Errorf("result = %+v", result)
	}
}

func TestCompletionEndpointErrors(t *testing.T) {
	s, srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]interface{}{
		"model_id": "no-such-model",
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown model status = %d, want 404", resp.StatusCode)
	}

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	// provider failure surfaces as a bad gateway with the chain result
	s.client.SetError(fmt.Errorf("upstream down"))
	resp = postJSON(t, srv.URL+"/v1/chat/completions", map[string]interface{}{
		"model_id": "m-primary",
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("provider failure status = %d, want 502", resp.StatusCode)
	}
	var result CompletionResult
	decodeBody(t, resp, &result)
	if result.Success || result.Error == "" {
		t.Errorf("result = %+v, want failure detail", result)
	}
}

func TestBudgetRefusalMapsTo429(t *testing.T) {
	s, srv := newTestServer(t, nil)
	seedEntity(t, s.reg.Budgets.Create, &core.Budget{
		ID:              "b-tight",
		Name:            "tight",
		Period:          core.PeriodDaily,
		HardLimitMicros: 1,
		Enabled:         true,
	})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]interface{}{
		"model_id": "m-primary",
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestChainExecuteEndpoint(t *testing.T) {
	s, srv := newTestServer(t, nil)
	seedEntity(t, s.reg.Chains.Create, &core.Chain{
		ID:      "c-direct",
		Name:    "direct",
		Enabled: true,
		Steps:   []core.ChainStep{{ModelID: "m-primary", FallbackBehavior: core.FallbackStop}},
	})

	resp := postJSON(t, srv.URL+"/v1/chains/c-direct/execute", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result CompletionResult
	decodeBody(t, resp, &result)
	if !result.Success || len(result.StepResults) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestWorkflowExecuteEndpoint(t *testing.T) {
	s, srv := newTestServer(t, nil)
	seedEntity(t, s.reg.Workflows.Create, &core.Workflow{
		ID:      "wf-greet",
		Name:    "greet",
		Enabled: true,
		Steps: []core.WorkflowStep{{
			Name: "greet",
			Kind: core.StepChatCompletion,
			ChatCompletion: &core.ChatCompletionStep{
				ModelID: "m-primary",
				User:    "Hello ${request:name}",
			},
		}},
	})

	resp := postJSON(t, srv.URL+"/v1/workflows/wf-greet/execute", map[string]interface{}{
		"input": map[string]string{"name": "Ada"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		Success     bool              `json:"success"`
		StepResults []json.RawMessage `json:"step_results"`
	}
	decodeBody(t, resp, &result)
	if !result.Success || len(result.StepResults) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestModelCRUDEndpoints(t *testing.T) {
	_, srv := newTestServer(t, nil)

	model := core.Model{
		ID:             "m-new",
		Name:           "new model",
		CredentialType: core.CredentialMock,
		ProviderModel:  "gpt-4o-mini",
		CredentialID:   "cred-mock",
		Enabled:        true,
	}
	resp := postJSON(t, srv.URL+"/v1/models", model)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	// duplicate create conflicts
	resp = postJSON(t, srv.URL+"/v1/models", model)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/v1/models/m-new")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var fetched core.Model
	decodeBody(t, getResp, &fetched)
	if fetched.ProviderModel != "gpt-4o-mini" {
		t.Errorf("fetched = %+v", fetched)
	}

	model.Name = "renamed"
	putReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/models/m-new", bytes.NewReader(mustMarshal(t, model)))
	putReq.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(putReq)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Errorf("update status = %d, want 200", putResp.StatusCode)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/models/m-new", nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", delResp.StatusCode)
	}

	getResp, err = http.Get(srv.URL + "/v1/models/m-new")
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestPromptRenderEndpoint(t *testing.T) {
	s, srv := newTestServer(t, nil)
	seedEntity(t, s.reg.Prompts.Create, &core.Prompt{
		ID:       "p-greet",
		Name:     "greet",
		Template: "Hello ${name}, you are in ${place:the lobby}.",
		Enabled:  true,
	})

	resp := postJSON(t, srv.URL+"/v1/prompts/p-greet/render", map[string]interface{}{
		"variables": map[string]string{"name": "Ada"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rendered struct {
		Text string `json:"text"`
	}
	decodeBody(t, resp, &rendered)
	if rendered.Text != "Hello Ada, you are in the lobby." {
		t.Errorf("text = %q", rendered.Text)
	}

	// a missing variable with no default rejects the request
	resp = postJSON(t, srv.URL+"/v1/prompts/p-greet/render", map[string]interface{}{
		"variables": map[string]string{},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing variable status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/prompts/no-such/render", map[string]interface{}{
		"variables": map[string]string{},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown prompt status = %d, want 404", resp.StatusCode)
	}
}

func TestCacheAndMetricsEndpoints(t *testing.T) {
	_, srv := newTestServer(t, &config.SemanticCacheConfig{
		Enabled:             true,
		SimilarityThreshold: 0.95,
		TTLSeconds:          60,
		MaxEntries:          10,
	})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", map[string]interface{}{
		"model_id": "m-primary",
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	resp.Body.Close()

	statsResp, err := http.Get(srv.URL + "/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	var stats struct {
		Misses int64 `json:"misses"`
		Size   int   `json:"size"`
	}
	decodeBody(t, statsResp, &stats)
	if stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v, want one miss and one stored entry", stats)
	}

	clearReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/cache", nil)
	clearResp, err := http.DefaultClient.Do(clearReq)
	if err != nil {
		t.Fatalf("DELETE cache: %v", err)
	}
	clearResp.Body.Close()
	if clearResp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", clearResp.StatusCode)
	}

	metricsResp, err := http.Get(srv.URL + "/v1/metrics/chains")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	var metrics map[string]json.RawMessage
	decodeBody(t, metricsResp, &metrics)
	if _, ok := metrics["direct:m-primary"]; !ok {
		t.Errorf("metrics = %v, want an entry for the direct route", metrics)
	}
}

func TestHandlerOpensServerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	for _, name := range names {
		if name == "HTTP GET /healthz" {
			return
		}
	}
	t.Errorf("ended spans = %v, want a server span for the request", names)
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
