package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"profilescrape-engine/internal/config"
)

type SecretsHandler struct {
	CfgVal    *atomic.Value // stores config.Config
	SetSecret func(account, key string) error
}

func (h SecretsHandler) SetGeminiKey(w http.ResponseWriter, r *http.Request) {
	var req setSecretReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON")
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_key", "key is required")
		return
	}

	cfg := h.CfgVal.Load().(config.Config)
	if err := h.SetSecret(cfg.Narrative.KeyringAccount, req.Key); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "keyring_error", "failed to store key: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
