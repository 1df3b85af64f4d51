package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"

	"upc/presence/internal/model"
)

// These tests run against a live deployment (server, postgres, redis) and
// are skipped by default.

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func login(t *testing.T, baseURL, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %d", resp.StatusCode)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("login decode: %v", err)
	}
	return payload.Token
}

func authedRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntegrationSessionAndScan(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("PRESENCE_HTTP_ADDR", "http://127.0.0.1:8084")
	deviceToken := getenv("DEVICE_TOKEN", "dev-device-token")

	adminToken := login(t, baseURL, getenv("ADMIN_EMAIL", "admin@demo.local"), getenv("ADMIN_PASSWORD", "dev-password"))

	// Provision a professor with one course so a blank start implies it.
	profEmail := fmt.Sprintf("prof-%d@demo.local", os.Getpid())
	resp := authedRequest(t, http.MethodPost, baseURL+"/staff", adminToken, map[string]interface{}{
		"name":             "Professeur Demo",
		"email":            profEmail,
		"password":         "dev-password",
		"role":             model.RoleProfesseur,
		"assigned_courses": []string{"L1 Informatique"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create staff: status %d", resp.StatusCode)
	}

	profToken := login(t, baseURL, profEmail, "dev-password")

	resp = authedRequest(t, http.MethodPost, baseURL+"/sessions/start", profToken, map[string]string{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session: status %d", resp.StatusCode)
	}
	var started model.Session
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	// Reader must see the awaiting-badge mode while the session is open.
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/device/config", nil)
	req.Header.Set("X-Device-Token", deviceToken)
	cfgResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("device config: %v", err)
	}
	defer cfgResp.Body.Close()
	var mode struct {
		Mode int `json:"mode"`
	}
	if err := json.NewDecoder(cfgResp.Body).Decode(&mode); err != nil {
		t.Fatalf("decode mode: %v", err)
	}
	if mode.Mode != 1 {
		t.Fatalf("expected mode 1 during session, got %d", mode.Mode)
	}

	scanBody, _ := json.Marshal(map[string]string{"badge_id": "INTEGRATION-BADGE"})
	scanReq, _ := http.NewRequest(http.MethodPost, baseURL+"/device/scan", bytes.NewReader(scanBody))
	scanReq.Header.Set("X-Device-Token", deviceToken)
	scanResp, err := http.DefaultClient.Do(scanReq)
	if err != nil {
		t.Fatalf("device scan: %v", err)
	}
	defer scanResp.Body.Close()
	if scanResp.StatusCode != http.StatusAccepted {
		t.Fatalf("scan: status %d", scanResp.StatusCode)
	}

	resp = authedRequest(t, http.MethodPost, baseURL+"/sessions/stop", profToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop session: status %d", resp.StatusCode)
	}

	resp = authedRequest(t, http.MethodGet, baseURL+"/sessions/"+started.ID+"/register", profToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session register: status %d", resp.StatusCode)
	}
}
