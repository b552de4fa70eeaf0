package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

func callerIdentity(r *http.Request) (userID, orgID string, ok bool) {
	userID, uok := r.Context().Value("user_id").(string)
	orgID, ook := r.Context().Value("org_id").(string)
	return userID, orgID, uok && ook
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// baseContentType strips any media type parameters, e.g.
// "text/html; charset=utf-8" becomes "text/html".
func baseContentType(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// extractFolderID pulls the folder id out of a shared Drive folder URL. The
// id is the last path segment; query parameters are ignored.
func extractFolderID(url string) string {
	if url == "" {
		return ""
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = strings.TrimSuffix(url, "/")
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}
