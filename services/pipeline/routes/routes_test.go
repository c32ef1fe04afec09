// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/pkg/secrets"
	"github.com/AleutianAI/ContractIQ/services/notify"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/observability"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type captureAudit struct{ events []extensions.AuditEvent }

func (a *captureAudit) Log(_ context.Context, e extensions.AuditEvent) error {
	a.events = append(a.events, e)
	return nil
}

type testAPI struct {
	router *gin.Engine
	svc    *pipeline.Services
	audit  *captureAudit
}

func newTestAPI(t *testing.T, opts extensions.ServiceOptions) *testAPI {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)
	svc := &pipeline.Services{
		Blobs:    blob.NewBadgerStore(db),
		Docs:     docdb.NewBadgerStore(db),
		Buckets:  pipeline.Buckets{Upload: "uploads", Text: "text"},
		Observer: metrics,
	}
	audit := &captureAudit{}
	if opts.AuditLogger == nil {
		opts.AuditLogger = audit
	}

	router := gin.New()
	router.Use(metrics.GinMiddleware())
	SetupRoutes(router, Stages{
		Uploader: pipeline.NewUploader(svc),
		Query:    pipeline.NewQuery(svc),
		Scorer:   pipeline.NewRiskScorer(svc, nil),
		Notifier: pipeline.NewNotifier(svc, nil),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, opts)
	return &testAPI{router: router, svc: svc, audit: audit}
}

func (a *testAPI) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func uploadBody(filename string) string {
	content := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test"))
	b, _ := json.Marshal(map[string]string{"file_content": content, "filename": filename})
	return string(b)
}

// ============================================================================
// Contracts API
// ============================================================================

func TestUploadListDetail(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	w := api.do("POST", "/v1/contracts/upload", uploadBody("lease.pdf"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var up pipeline.UploadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.Equal(t, "uploaded", up.Status)
	assert.Equal(t, "Contract uploaded successfully", up.Message)
	_, err := uuid.Parse(up.ContractID)
	require.NoError(t, err)

	w = api.do("GET", "/v1/contracts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, up.ContractID, list[0]["id"])
	assert.Equal(t, "lease.pdf", list[0]["filename"])
	assert.Nil(t, list[0]["riskScore"])

	w = api.do("GET", "/v1/contracts/"+up.ContractID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, up.ContractID, detail["contract_id"])
	assert.Equal(t, []any{}, detail["clauses"])
	assert.EqualValues(t, 0, detail["clauses_count"])

	require.Len(t, api.audit.events, 2)
	assert.Equal(t, "contract.upload", api.audit.events[0].EventType)
	assert.Equal(t, "anonymous", api.audit.events[0].UserID)
	assert.Equal(t, up.ContractID, api.audit.events[0].ResourceID)
	assert.Equal(t, "contract.read", api.audit.events[1].EventType)
}

func TestUpload_Errors(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"missing content", `{"filename":"a.pdf"}`, 400, `{"error":"No file content provided"}`},
		{"bad base64", `{"file_content":"!!!"}`, 400, `{"error":"Invalid file content"}`},
		{"not json", `nope`, 400, `{"error":"Invalid request body"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do("POST", "/v1/contracts/upload", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestUpload_UsesAuthenticatedUser(t *testing.T) {
	provider := extensions.NewTokenAuthProvider(map[string]*secrets.Secret{
		"alice": secrets.New("alice", []byte("tok")),
	}, true)
	api := newTestAPI(t, extensions.DefaultOptions().WithAuth(provider).WithAudit(nil))

	w := api.do("POST", "/v1/contracts/upload", uploadBody("x.pdf"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do("POST", "/v1/contracts/upload", uploadBody("x.pdf"), "Authorization", "Bearer tok")
	require.Equal(t, http.StatusOK, w.Code)
	var up pipeline.UploadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	c, err := api.svc.Docs.GetContract(context.Background(), up.ContractID)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, "contracts/alice/"+up.ContractID+"/x.pdf", c.ObjectKey)
}

func TestGetContract_Errors(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	w := api.do("GET", "/v1/contracts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Contract not found"}`, w.Body.String())

	w = api.do("GET", "/v1/contracts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid contract ID"}`, w.Body.String())
}

func TestGetContract_EmptyID(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	w := api.do("GET", "/v1/contracts/", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.JSONEq(t, `{"error":"Contract ID required"}`, w.Body.String())

	w = api.do("GET", "/v1/contracts", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationsWS_UsesAuthenticatedUser(t *testing.T) {
	provider := extensions.NewTokenAuthProvider(map[string]*secrets.Secret{
		"alice": secrets.New("alice", []byte("tok")),
	}, false)
	router := gin.New()
	SetupRoutes(router, Stages{Hub: notify.NewHub(nil)}, extensions.DefaultOptions().WithAuth(provider))

	get := func(path string, header ...string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for i := 0; i+1 < len(header); i += 2 {
			req.Header.Set(header[i], header[i+1])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, get("/v1/notifications/ws?user_id=bob", "Authorization", "Bearer tok"))
	// Plain GETs fail the upgrade, but identity checks pass first.
	assert.NotEqual(t, http.StatusForbidden, get("/v1/notifications/ws?user_id=alice", "Authorization", "Bearer tok"))
	assert.NotEqual(t, http.StatusForbidden, get("/v1/notifications/ws?user_id=bob"))
}

// ============================================================================
// Event endpoints
// ============================================================================

func TestEvents_ScoringAndNotify(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	w := api.do("POST", "/v1/events/scoring", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"contract_id required"}`, w.Body.String())

	w = api.do("POST", "/v1/events/scoring", `{"contract_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do("POST", "/v1/events/notify", `{"contract_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Contract not found"}`, w.Body.String())
}

func TestEvents_UnroutedStages(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})
	w := api.do("POST", "/v1/events/analysis", `{"Records":[]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============================================================================
// Ambient routes
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})

	w := api.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	api.do("GET", "/v1/contracts", "")
	w = api.do("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `contractiq_stage_invocations_total{outcome="ok",stage="query"} 1`)
	assert.Contains(t, w.Body.String(), `contractiq_http_requests_total{code="200",method="GET",route="/v1/contracts"} 1`)
}

func TestPreflight(t *testing.T) {
	api := newTestAPI(t, extensions.ServiceOptions{})
	w := api.do("OPTIONS", "/v1/contracts/upload", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
