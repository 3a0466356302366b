package document

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ListHandler serves GET /api/documents?page=N from src
func ListHandler(src *Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		page := 1
		if raw := r.URL.Query().Get("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = n
		}

		result, err := src.List(r.Context(), page)
		if err != nil {
			src.logger.Warn().Err(err).Int("page", page).Msg("Document listing failed")
			http.Error(w, "document listing unavailable", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
