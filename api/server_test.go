package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"taglink/config"
	"taglink/engine"
)

// newTestServer builds an engine (FDI server disabled) and an API server
// wrapped in httptest.
func newTestServer(t *testing.T, tokenHash string) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Namespace = "plant7"
	cfg.Server.Enabled = false
	cfg.API.TokenHash = tokenHash
	cfg.Tags = []config.TagConfig{
		{ID: 1001, Name: "fill_count", Type: "integer", Access: "read_write", Value: "42"},
		{ID: 1003, Name: "batch_label", Type: "string", Access: "read_write", Value: "Hi"},
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: filepath.Join(t.TempDir(), "taglink.yaml"),
	})
	if err := eng.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(eng.Stop)

	s := NewServer(&cfg.API, eng)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts, eng
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t, "")

	var health map[string]string
	if code := getJSON(t, ts.URL+"/api/health", &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	var status map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status["namespace"] != "plant7" {
		t.Errorf("namespace = %v", status["namespace"])
	}
	if status["tag_count"].(float64) != 2 {
		t.Errorf("tag_count = %v", status["tag_count"])
	}
	if status["client_count"].(float64) != 0 {
		t.Errorf("client_count = %v", status["client_count"])
	}
}

func TestListAndGetTags(t *testing.T) {
	ts, _ := newTestServer(t, "")

	var tags []tagJSON
	if code := getJSON(t, ts.URL+"/api/tags", &tags); code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	if len(tags) != 2 || tags[0].ID != 1001 || tags[1].ID != 1003 {
		t.Errorf("tags = %+v", tags)
	}

	var tag tagJSON
	if code := getJSON(t, ts.URL+"/api/tags/1001", &tag); code != http.StatusOK {
		t.Fatalf("get code = %d", code)
	}
	if tag.Name != "fill_count" || tag.Type != "integer" || !tag.Writable {
		t.Errorf("tag = %+v", tag)
	}

	if code := getJSON(t, ts.URL+"/api/tags/9999", nil); code != http.StatusNotFound {
		t.Errorf("missing tag code = %d, want 404", code)
	}
	if code := getJSON(t, ts.URL+"/api/tags/notanumber", nil); code != http.StatusBadRequest {
		t.Errorf("bad id code = %d, want 400", code)
	}
}

func TestAddUpdateRemoveTag(t *testing.T) {
	ts, eng := newTestServer(t, "")

	// Add.
	body, _ := json.Marshal(addTagRequest{
		ID: 2000, Name: "co2_pressure", Type: "float", Access: "read_only", Value: 2.5,
	})
	resp, err := http.Post(ts.URL+"/api/tags", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add code = %d, want 201", resp.StatusCode)
	}
	if _, err := eng.GetTag(2000); err != nil {
		t.Errorf("tag not in registry after add: %v", err)
	}

	// Update value.
	body, _ = json.Marshal(updateValueRequest{Value: 99})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/tags/1001/value", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	var updated tagJSON
	json.NewDecoder(resp.Body).Decode(&updated)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update code = %d, want 200", resp.StatusCode)
	}
	if updated.Value.(float64) != 99 {
		t.Errorf("updated value = %v", updated.Value)
	}

	// Type-safe update: a non-numeric string onto an integer tag is rejected.
	body, _ = json.Marshal(updateValueRequest{Value: "not a number"})
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/tags/1001/value", bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad value code = %d, want 400", resp.StatusCode)
	}

	// Remove.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/tags/2000", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("remove code = %d, want 204", resp.StatusCode)
	}
	if _, err := eng.GetTag(2000); err == nil {
		t.Error("tag still in registry after remove")
	}
}

func TestBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	ts, _ := newTestServer(t, string(hash))

	// No token.
	resp, err := http.Get(ts.URL + "/api/tags")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token code = %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/tags", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token code = %d, want 401", resp.StatusCode)
	}

	// Correct token.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/tags", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token code = %d, want 200", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Enabled = false
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0

	eng := engine.New(engine.Config{AppConfig: cfg})
	if err := eng.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	defer eng.Stop()

	s := NewServer(&cfg.API, eng)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("server not running after Start")
	}
	s.Stop()
}
