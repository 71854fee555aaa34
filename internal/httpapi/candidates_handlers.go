package httpapi

import (
	"database/sql"
	"net/http"

	"profilescrape-engine/internal/store"
)

type CandidatesHandler struct {
	DB *sql.DB
}

func (h CandidatesHandler) List(w http.ResponseWriter, r *http.Request) {
	out, err := store.ListCandidates(r.Context(), h.DB, queryInt(r, "limit", 100))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, out)
}
