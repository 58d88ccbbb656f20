package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := doRequest(t, env.router, http.MethodGet, "/api/credentials", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[CredentialsResponse](t, rr)
	require.Len(t, resp.Credentials, 2)
	assert.Equal(t, "key-1", resp.Credentials[0].Name)
	assert.Equal(t, credential.StateAvailable, resp.Credentials[0].State)
	assert.NotContains(t, rr.Body.String(), "test-key-alpha", "key material is never served")
}

func TestListCredentials_NoPool(t *testing.T) {
	t.Parallel()

	svc := &mockJobService{CredentialsFn: func() []credential.Status { return nil }}
	rr := doRequest(t, newTestRouter(svc, svc), http.MethodGet, "/api/credentials", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"credentials":[]}`, rr.Body.String())
}

func TestResetQuota(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	lease, err := env.pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.pool.Release(lease, credential.OutcomeQuotaExceeded))

	rr := doRequest(t, env.router, http.MethodPost, "/api/credentials/"+lease.Name+"/reset-quota", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ResetQuotaResponse{Name: lease.Name, Reset: true}, decodeBody[ResetQuotaResponse](t, rr))

	rr = doRequest(t, env.router, http.MethodPost, "/api/credentials/"+lease.Name+"/reset-quota", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[ResetQuotaResponse](t, rr).Reset)

	rr = doRequest(t, env.router, http.MethodPost, "/api/credentials/key-9/reset-quota", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Credential not found", errorMessage(t, rr))
}
