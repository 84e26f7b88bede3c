package chi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/docq"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	client, err := docq.New(docq.WithMemory("test"), docq.WithPrometheus(reg))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	h := NewServer(client, Config{MaxPageSize: 10, Gatherer: reg}, nil).Handler()

	for _, body := range []string{
		`{"id": "n1", "text": "hi", "n": 2, "tags": ["a"]}`,
		`{"id": "n2", "text": "yo", "n": 5, "tags": ["b"]}`,
		`{"id": "n3", "text": "ok", "n": 9.5}`,
	} {
		rr := do(t, h, http.MethodPost, "/v1/documents/notes", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("seed: status %d: %s", rr.Code, rr.Body)
		}
	}
	return h
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func ids(t *testing.T, body map[string]any) []string {
	t.Helper()
	docs, ok := body["documents"].([]any)
	if !ok {
		t.Fatalf("no documents in %v", body)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d.(map[string]any)["id"].(string)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t)
	rr := do(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["status"] != "healthy" || body["database"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	if rr := do(t, h, http.MethodGet, "/v1/documents/notes", ""); rr.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "docq_queries_total") {
		t.Errorf("status = %d, body lacks query metrics", rr.Code)
	}
}

func TestGetDocument(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/v1/documents/notes/n1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	doc := decode(t, rr)
	if doc["id"] != "n1" || doc["text"] != "hi" || doc["n"] != float64(2) {
		t.Errorf("doc = %v", doc)
	}

	rr = do(t, h, http.MethodGet, "/v1/documents/notes/missing", "")
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != string(codeNotFound) {
		t.Errorf("missing: status = %d, body = %s", rr.Code, rr.Body)
	}
}

func TestListCollection(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/v1/documents/notes?order_by=-n&limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	got := ids(t, decode(t, rr))
	if len(got) != 2 || got[0] != "n3" || got[1] != "n2" {
		t.Errorf("ids = %v", got)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/v1/documents/notes?limit=11", http.StatusBadRequest},
		{"/v1/documents/notes?limit=x", http.StatusBadRequest},
		{"/v1/documents/notes/n1/", http.StatusBadRequest},
		{"/v1/documents/empty", http.StatusOK},
	}
	for _, tt := range tests {
		if rr := do(t, h, http.MethodGet, tt.target, ""); rr.Code != tt.want {
			t.Errorf("GET %s: status = %d, want %d", tt.target, rr.Code, tt.want)
		}
	}
}

func TestListCollection_DefaultPageFollowsMax(t *testing.T) {
	client, err := docq.New(docq.WithMemory("test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	h := NewServer(client, Config{MaxPageSize: 2, Gatherer: prometheus.NewRegistry()}, nil).Handler()
	for _, id := range []string{"a", "b", "c"} {
		if rr := do(t, h, http.MethodPost, "/v1/documents/notes", `{"id": "`+id+`"}`); rr.Code != http.StatusCreated {
			t.Fatalf("seed: status %d: %s", rr.Code, rr.Body)
		}
	}

	rr := do(t, h, http.MethodGet, "/v1/documents/notes", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := ids(t, decode(t, rr)); len(got) != 2 {
		t.Errorf("ids = %v, want one page of 2", got)
	}
	if rr := do(t, h, http.MethodGet, "/v1/documents/notes?limit=3", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("explicit limit over max: status = %d", rr.Code)
	}
}

func TestQuery(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name string
		body string
		want []string
	}{
		{"filter and order", `{"collection": "notes", "where": [{"field": "n", "op": ">", "value": 3}], "order_by": [{"field": "n"}]}`, []string{"n2", "n3"}},
		{"or group", `{"collection": "notes", "or": [[{"field": "text", "op": "==", "value": "hi"}, {"field": "text", "op": "==", "value": "ok"}]], "order_by": [{"field": "n"}]}`, []string{"n1", "n3"}},
		{"in", `{"collection": "notes", "where": [{"field": "text", "op": "in", "value": ["yo", "zz"]}]}`, []string{"n2"}},
		{"array contains", `{"collection": "notes", "where": [{"field": "tags", "op": "array-contains", "value": "a"}]}`, []string{"n1"}},
		{"skip and limit", `{"collection": "notes", "order_by": [{"field": "n", "desc": true}], "skip": 1, "limit": 1}`, []string{"n2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/query", tt.body)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body)
			}
			got := ids(t, decode(t, rr))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_Scalars(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/v1/query", `{"collection": "notes", "where": [{"field": "n", "op": "<", "value": 6}], "count": true}`)
	if rr.Code != http.StatusOK || decode(t, rr)["count"] != float64(2) {
		t.Errorf("count: status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = do(t, h, http.MethodPost, "/v1/query", `{"collection": "notes", "where": [{"field": "n", "op": "<", "value": 6}], "aggregate": {"kind": "sum", "field": "n"}}`)
	if rr.Code != http.StatusOK || decode(t, rr)["value"] != float64(7) {
		t.Errorf("sum: status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = do(t, h, http.MethodPost, "/v1/query", `{"collection": "notes", "aggregate": {"kind": "median", "field": "n"}}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown aggregate: status = %d", rr.Code)
	}
}

func TestQuery_Select(t *testing.T) {
	h := newTestServer(t)
	rr := do(t, h, http.MethodPost, "/v1/query", `{"collection": "notes", "where": [{"field": "n", "op": "==", "value": 2}], "select": ["text"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	docs := decode(t, rr)["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("documents = %v", docs)
	}
	doc := docs[0].(map[string]any)
	if doc["text"] != "hi" || doc["n"] != nil {
		t.Errorf("projected = %v", doc)
	}
}

func TestQuery_Errors(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
		code errorCode
	}{
		{"malformed", `{"collection": `, http.StatusBadRequest, codeBadRequest},
		{"document path", `{"collection": "notes/n1"}`, http.StatusBadRequest, codeBadRequest},
		{"unknown operator", `{"collection": "notes", "where": [{"field": "n", "op": "~", "value": 1}]}`, http.StatusBadRequest, codeUnsupported},
		{"missing field", `{"collection": "notes", "where": [{"op": "==", "value": 1}]}`, http.StatusBadRequest, codeInvalidQuery},
		{"count and aggregate", `{"collection": "notes", "count": true, "aggregate": {"kind": "sum", "field": "n"}}`, http.StatusBadRequest, codeInvalidQuery},
		{"over max page", `{"collection": "notes", "limit": 50}`, http.StatusBadRequest, codeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/query", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body)
			}
			if got := decode(t, rr)["code"]; got != string(tt.code) {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestDocumentWrites(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/v1/documents/notes", `{"id": "n1", "text": "dup"}`)
	if rr.Code != http.StatusConflict || decode(t, rr)["code"] != string(codeAlreadyExists) {
		t.Errorf("duplicate: status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = do(t, h, http.MethodPost, "/v1/documents/notes", `{"text": "fresh"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rr.Code, rr.Body)
	}
	created := decode(t, rr)
	if p, _ := created["path"].(string); p != "notes/"+created["id"].(string) {
		t.Errorf("created = %v", created)
	}

	rr = do(t, h, http.MethodPut, "/v1/documents/notes/n1", `{"text": "changed", "n": 3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("replace: status = %d: %s", rr.Code, rr.Body)
	}
	doc := decode(t, do(t, h, http.MethodGet, "/v1/documents/notes/n1", ""))
	if doc["text"] != "changed" || doc["n"] != float64(3) {
		t.Errorf("after replace = %v", doc)
	}

	if rr := do(t, h, http.MethodPut, "/v1/documents/notes/missing", `{"text": "x"}`); rr.Code != http.StatusNotFound {
		t.Errorf("replace missing: status = %d", rr.Code)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/documents/notes/n2", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d: %s", rr.Code, rr.Body)
	}
	if rr := do(t, h, http.MethodGet, "/v1/documents/notes/n2", ""); rr.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d", rr.Code)
	}
}

func TestHandler_RequiresAPIKey(t *testing.T) {
	client, err := docq.New(docq.WithMemory("test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	h := NewServer(client, Config{APIKeys: []string{"secret"}, Gatherer: prometheus.NewRegistry()}, nil).Handler()

	rr := do(t, h, http.MethodGet, "/v1/documents/notes", "")
	if rr.Code != http.StatusUnauthorized || decode(t, rr)["code"] != string(codeUnauthorized) {
		t.Errorf("without token: status = %d, body = %s", rr.Code, rr.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/notes", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with token: status = %d, body = %s", rr.Code, rr.Body)
	}

	if rr := do(t, h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", rr.Code)
	}
}
