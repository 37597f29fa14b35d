package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func echoRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /incidents/{id}/decision", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":    r.PathValue("id"),
			"body":  string(body),
			"query": r.URL.Query().Get("store_id"),
			"trace": r.Header.Get("X-Trace"),
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func event(method, path, query, body string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		RawPath:        path,
		RawQueryString: query,
		Body:           body,
		Headers:        map[string]string{"x-trace": "t-1"},
	}
	req.RequestContext.HTTP.Method = method
	req.RequestContext.HTTP.Path = path
	return req
}

func TestHandle_RoutesEvent(t *testing.T) {
	h := NewHandler(echoRoutes())
	resp, err := h.Handle(context.Background(), event(http.MethodPost, "/incidents/inc-1/decision", "store_id=s1", `{"decision":"abort"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.StatusCode)
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Errorf("content-type = %q", resp.Headers["content-type"])
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"id": "inc-1", "body": `{"decision":"abort"}`, "query": "s1", "trace": "t-1"}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %q, want %q", k, out[k], v)
		}
	}
}

func TestHandle_Base64Body(t *testing.T) {
	h := NewHandler(echoRoutes())
	req := event(http.MethodPost, "/incidents/inc-2/decision", "", base64.StdEncoding.EncodeToString([]byte("approve")))
	req.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatal(err)
	}
	if out["body"] != "approve" {
		t.Errorf("body = %q", out["body"])
	}

	req.Body = "%%%"
	resp, _ = h.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad base64, got %d", resp.StatusCode)
	}
}

func TestHandle_ImplicitOK(t *testing.T) {
	h := NewHandler(echoRoutes())
	resp, err := h.Handle(context.Background(), event(http.MethodGet, "/health", "", ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Fatalf("got %d %q", resp.StatusCode, resp.Body)
	}

	resp, _ = h.Handle(context.Background(), event(http.MethodGet, "/missing", "", ""))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
