package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/adapters/keyagree"
	"github.com/dkeye/securecall/internal/adapters/signal"
	"github.com/dkeye/securecall/internal/adapters/store"
	"github.com/dkeye/securecall/internal/app/orch"
	"github.com/dkeye/securecall/internal/app/turn"
	"github.com/dkeye/securecall/internal/config"
	"github.com/dkeye/securecall/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:   "test",
		Secret: "test-cookie-secret-0123456789abc",
		Calls:  config.Calls{RateLimit: 3, RateWindow: time.Minute},
	}
}

func setupRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	calls, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = calls.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := signal.NewHub(32768, time.Minute)
	keys := keyagree.NewMemory()
	o := orch.New(orch.Deps{
		Calls:    calls,
		Keys:     keys,
		Notifier: hub,
		Issuer:   turn.NewIssuer("turn.test", 3478, "s3cret"),
	}, orch.Options{RingTimeout: time.Hour})
	t.Cleanup(o.Close)
	return SetupRouter(ctx, cfg, o, hub, keys)
}

func do(r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
		req.Header.Set(HeaderDeviceID, "phone")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestUnauthenticated(t *testing.T) {
	r := setupRouter(t, testConfig())
	w := do(r, http.MethodGet, "/api/calls", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, w)["error"])

	w = do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, testConfig())
	w := do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{"bob"}, "call_type": "audio"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{}, "call_type": "audio"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `securecall_calls_created_total{call_type="audio",mode="p2p"} 1`)
	assert.Contains(t, body, "securecall_active_calls 1")
	assert.Contains(t, body, "securecall_calls_creation_errors_total 1")
}

func TestIdentityIsKeptInSession(t *testing.T) {
	r := setupRouter(t, testConfig())
	w := do(r, http.MethodGet, "/api/calls", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallFlow(t *testing.T) {
	r := setupRouter(t, testConfig())
	secret := map[string][]byte{"secret": []byte("alice-bob")}
	require.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/api/keyagreement/bob", "alice", secret).Code)
	require.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/api/keyagreement/alice", "bob", secret).Code)

	w := do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{"bob"}, "call_type": "audio"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id, _ := created["session_id"].(string)
	require.True(t, strings.HasPrefix(id, "call_"))
	assert.Equal(t, "p2p", created["mode"])
	enc, _ := created["encryption"].(map[string]any)
	assert.Equal(t, true, enc["enabled"])
	assert.Equal(t, orch.Algorithm, enc["algorithm"])

	w = do(r, http.MethodGet, "/api/calls/"+id, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/api/calls/"+id+"/answer", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/calls/"+id+"/encryption", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_encrypted"])

	w = do(r, http.MethodPost, "/api/calls/"+id+"/keys/rotate", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["participants_updated"], 2)

	w = do(r, http.MethodPost, "/api/calls/"+id+"/encryption/verify", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["encryption_verified"])

	w = do(r, http.MethodGet, "/api/calls/"+id+"/security", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	features, _ := decode(t, w)["security_features"].(map[string]any)
	assert.Equal(t, orch.KeyDerivation, features["key_derivation"])

	w = do(r, http.MethodPost, "/api/calls/"+id+"/end", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.StatusEnded), decode(t, w)["status"])

	w = do(r, http.MethodPost, "/api/calls/"+id+"/answer", "bob", nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "CALL_ENDED", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/calls/"+id+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.StatusEnded), decode(t, w)["status"])

	w = do(r, http.MethodGet, "/api/calls?limit=5", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["calls"], 1)
}

func TestCreateCallErrors(t *testing.T) {
	r := setupRouter(t, testConfig())

	w := do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{}, "call_type": "video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NO_CALLEES", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{"bob"}, "call_type": "hologram"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CALL_TYPE", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/calls/call_missing/end", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCallRateLimited(t *testing.T) {
	r := setupRouter(t, testConfig())
	body := gin.H{"callee_ids": []string{"bob"}}
	for range 3 {
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/calls", "alice", body).Code)
	}
	w := do(r, http.MethodPost, "/api/calls", "alice", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/calls", "carol", body).Code)
}

func TestGroupParticipantsRoutes(t *testing.T) {
	r := setupRouter(t, testConfig())
	w := do(r, http.MethodPost, "/api/calls", "alice", gin.H{"callee_ids": []string{"bob", "carol"}})
	require.Equal(t, http.StatusCreated, w.Code)
	id, _ := decode(t, w)["session_id"].(string)

	w = do(r, http.MethodPost, "/api/calls/"+id+"/participants", "bob", gin.H{"user_id": "dave"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/calls/"+id+"/participants", "bob", gin.H{"user_id": "dave"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodDelete, "/api/calls/"+id+"/participants/carol", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodDelete, "/api/calls/"+id+"/participants/carol", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	call, _ := decode(t, w)["call"].(map[string]any)
	assert.Len(t, call["participants"], 3)
}

func TestTurnCredentials(t *testing.T) {
	r := setupRouter(t, testConfig())
	w := do(r, http.MethodGet, "/api/turn", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	username, _ := body["username"].(string)
	assert.True(t, strings.HasPrefix(username, "alice:phone:"))
	assert.Len(t, body["uris"], 3)
	assert.Len(t, body["ice_servers"], len(turn.DefaultSTUN)+3)
}

func TestCallRateLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewCallRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("alice"))

	now = now.Add(2 * time.Minute)
	rl.Prune()
	rl.mu.Lock()
	assert.Empty(t, rl.history)
	rl.mu.Unlock()
}

func TestStatusFor(t *testing.T) {
	status, code := statusFor(domain.ErrCallEnded)
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "CALL_ENDED", code)

	status, code = statusFor(context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", code)
}
