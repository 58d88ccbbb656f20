package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/labelgen/internal/api/shared"
	"github.com/phrazzld/labelgen/internal/credential"
)

// CredentialService is the subset of service.JobService the credential
// handlers use.
type CredentialService interface {
	Credentials() []credential.Status
	ResetQuota(name string) (bool, error)
}

// CredentialHandler exposes the credential pool to operators.
type CredentialHandler struct {
	creds CredentialService
}

// NewCredentialHandler creates a new CredentialHandler
func NewCredentialHandler(creds CredentialService) *CredentialHandler {
	return &CredentialHandler{creds: creds}
}

// ListCredentials handles GET /api/credentials.
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	statuses := h.creds.Credentials()
	if statuses == nil {
		statuses = []credential.Status{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CredentialsResponse{Credentials: statuses})
}

// ResetQuota handles POST /api/credentials/{name}/reset-quota.
func (h *CredentialHandler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	reset, err := h.creds.ResetQuota(name)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reset credential quota")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ResetQuotaResponse{Name: name, Reset: reset})
}
