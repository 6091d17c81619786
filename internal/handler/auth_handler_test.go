package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kmulambia/qgen-engine/internal/config"
	"github.com/kmulambia/qgen-engine/internal/hashing"
	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/notify"
	"github.com/kmulambia/qgen-engine/internal/repository/memory"
	"github.com/kmulambia/qgen-engine/internal/service"
	"github.com/kmulambia/qgen-engine/internal/token"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := memory.NewStore()
	vault := hashing.NewVault()

	codec, err := token.NewCodec(config.JWTConfig{
		Key:                "test-signing-key",
		Algorithm:          "HS256",
		TokenExpireMinutes: 30,
	})
	require.NoError(t, err)

	audits := service.NewAuditService()
	credentials := service.NewCredentialService(vault)
	tokens := service.NewTokenService(codec)
	otps := service.NewOTPService(vault, audits)
	auth := service.NewAuthService(store, credentials, tokens, otps, audits, notify.NopMailer{})

	store.SeedRole(&models.Role{ID: uuid.New(), Name: service.DefaultRoleName, Status: models.StatusActive}, "quotation.read")
	store.SeedWorkspace(&models.Workspace{ID: uuid.New(), Name: service.DefaultWorkspaceName, Status: models.StatusActive})

	return NewRouter(NewAuthHandler(auth), nil, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, h http.Handler) (string, uuid.UUID) {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/self-register", map[string]any{
		"first_name": "Ada",
		"last_name":  "Banda",
		"phone":      "+265991000001",
		"email":      "ada@example.com",
		"password":   "s3cret-pass",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "s3cret-pass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Token  string    `json:"token"`
			UserID uuid.UUID `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token, resp.Data.UserID
}

func TestLoginEndpoint(t *testing.T) {
	h := newTestRouter(t)
	bearer, userID := registerAndLogin(t, h)
	assert.NotEmpty(t, bearer)
	assert.NotEqual(t, uuid.Nil, userID)
}

func TestLoginEndpointWrongPassword(t *testing.T) {
	h := newTestRouter(t)
	registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid email or password", resp.Message)
}

func TestLoginEndpointUnknownUserSameMessage(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "ghost@example.com",
		"password": "whatever",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid email or password", resp.Message)
}

func TestSelfRegisterDuplicateEmail(t *testing.T) {
	h := newTestRouter(t)
	registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/self-register", map[string]any{
		"first_name": "Twin",
		"last_name":  "Banda",
		"phone":      "+265991000002",
		"email":      "ada@example.com",
		"password":   "another",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangePasswordRequiresAuth(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/change-password", map[string]any{
		"new_password": "new-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordWithToken(t *testing.T) {
	h := newTestRouter(t)
	bearer, _ := registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/change-password", map[string]any{
		"new_password": "new-pass",
	}, map[string]string{"Authorization": "Bearer " + bearer})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "new-pass",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "s3cret-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordGarbageToken(t *testing.T) {
	h := newTestRouter(t)
	registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/change-password", map[string]any{
		"new_password": "new-pass",
	}, map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestOTPAndResetPassword(t *testing.T) {
	h := newTestRouter(t)
	registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]any{
		"email": "ada@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A second request while the code is live conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/request-otp", map[string]any{
		"email": "ada@example.com",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Wrong code rejects with a generic message.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/reset-password", map[string]any{
		"email":        "ada@example.com",
		"code":         "WRONG1",
		"new_password": "new-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid verification code", resp.Message)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"qgen-engine"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingBodyFields(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "ada@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
