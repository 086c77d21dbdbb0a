package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/taskforge/sync/internal/api/middleware"
	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/intent"
	"github.com/taskforge/sync/internal/store"
)

// setupTestServer wires a real Postgres-backed Server: store.Store,
// identity.Resolver (no Sheet contact lookup — sheetOpenId resolution is
// exercised separately in internal/identity), intent.Service, and an
// authenticated operator API key.
func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &store.Connection{DB: testDB.Connection}

	st, err := store.New(conn)
	require.NoError(t, err)

	resolver := identity.New(st, nil, nil)
	intentSvc := intent.New(st, resolver, intent.Config{
		DefaultForgeRepo: "acme/widgets",
	})

	apiKeyStore, err := store.NewPersistentAPIKeyStore(conn)
	require.NoError(t, err)

	plaintext, err := store.GenerateAPIKey("integration-test-client")
	require.NoError(t, err)

	require.NoError(t, apiKeyStore.Add(ctx, &store.APIKey{
		ID:          "test-key",
		Key:         plaintext,
		ClientName:  "integration-test-client",
		Permissions: []string{"tasks:write", "tasks:read", "members:write", "members:read"},
		Active:      true,
	}))

	rateLimiter := middleware.NewInMemoryRateLimiter(&middleware.Config{
		GlobalRPS:       1000,
		PluginRPS:       1000,
		UnAuthRPS:       1000,
		MaxPlugins:      100,
		CleanupInterval: time.Minute,
		IdleTimeout:     time.Hour,
	})
	t.Cleanup(func() { _ = rateLimiter.Close() })

	cfg := LoadServerConfig()
	cfg.APIKeyStore = apiKeyStore

	server := NewServer(&cfg, apiKeyStore, rateLimiter, intentSvc)
	server.startTime = time.Now()

	return server, plaintext
}

func doRequest(t *testing.T, server *Server, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestServerHealthEndpointsArePublic(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerRejectsUnauthenticatedTaskRequest(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerCreateAndGetTask(t *testing.T) {
	server, apiKey := setupTestServer(t)

	createRec := doRequest(t, server, http.MethodPost, "/api/v1/tasks", apiKey, CreateTaskRequest{
		Title:    "Investigate sync lag",
		Body:     "Members report stale sheet rows",
		Priority: "high",
		Labels:   []string{"bug"},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created TaskResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.TaskID)
	require.Equal(t, "ToDo", created.Status)

	getRec := doRequest(t, server, http.MethodGet, "/api/v1/tasks/"+created.TaskID, apiKey, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched TaskResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	require.Equal(t, created.TaskID, fetched.TaskID)
	require.Equal(t, "Investigate sync lag", fetched.Title)
}

func TestServerUpdateAndCloseTask(t *testing.T) {
	server, apiKey := setupTestServer(t)

	createRec := doRequest(t, server, http.MethodPost, "/api/v1/tasks", apiKey, CreateTaskRequest{
		Title: "Draft onboarding doc",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created TaskResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	newTitle := "Draft onboarding doc v2"
	patchRec := doRequest(t, server, http.MethodPatch, "/api/v1/tasks/"+created.TaskID, apiKey, UpdateTaskRequest{
		Title: &newTitle,
	})
	require.Equal(t, http.StatusOK, patchRec.Code)

	var patched TaskResponse
	require.NoError(t, json.Unmarshal(patchRec.Body.Bytes(), &patched))
	require.Equal(t, newTitle, patched.Title)

	closeRec := doRequest(t, server, http.MethodPost, "/api/v1/tasks/"+created.TaskID+"/close", apiKey, CloseTaskRequest{
		Reason: "completed",
	})
	require.Equal(t, http.StatusOK, closeRec.Code)

	var closed TaskResponse
	require.NoError(t, json.Unmarshal(closeRec.Body.Bytes(), &closed))
	require.Equal(t, "Done", closed.Status)
}

func TestServerGetUnknownTaskReturns404(t *testing.T) {
	server, apiKey := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/tasks/does-not-exist", apiKey, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerMemberCreateAndWork(t *testing.T) {
	server, apiKey := setupTestServer(t)

	createRec := doRequest(t, server, http.MethodPost, "/api/v1/members", apiKey, CreateMemberRequest{
		Email:         "a@co.example",
		ForgeUsername: "a-gh",
		Role:          "developer",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var member MemberResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &member))
	require.NotEmpty(t, member.MemberID)

	taskRec := doRequest(t, server, http.MethodPost, "/api/v1/tasks", apiKey, CreateTaskRequest{
		Title:         "Assigned work",
		AssigneeEmail: "a@co.example",
	})
	require.Equal(t, http.StatusCreated, taskRec.Code)

	workRec := doRequest(t, server, http.MethodGet, "/api/v1/members/"+member.MemberID+"/work", apiKey, nil)
	require.Equal(t, http.StatusOK, workRec.Code)

	var work MemberWorkResponse
	require.NoError(t, json.Unmarshal(workRec.Body.Bytes(), &work))
	require.Equal(t, member.MemberID, work.Member.MemberID)
	require.Len(t, work.Tasks, 1)
	require.Equal(t, "Assigned work", work.Tasks[0].Task.Title)
}

func TestServerConversionEndpointsAcceptAndEnqueue(t *testing.T) {
	server, apiKey := setupTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/conversions/forge-to-sheet", apiKey, ConvertForgeToSheetRequest{
		Repo:   "acme/widgets",
		Number: 42,
		TargetTable: SheetTableRefDTO{
			AppToken: "app_1",
			TableID:  "tbl_1",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}
