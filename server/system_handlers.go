package server

import (
	"net/http"
	"os"
	"time"

	"github.com/simplenas/nas-gateway/broker"
)

// IndexHandler answers with a short machine-readable API directory.
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, s.config.GetAppName(), map[string]interface{}{
			"endpoints": map[string]string{
				"POST " + RouteLogin:            "log in with account and password, sets session cookie",
				"POST " + RouteLoginToken:       "log in and receive a bearer token",
				"POST " + RouteLogout:           "log out the cookie session",
				"POST " + RouteLogoutToken:      "revoke the bearer token",
				"GET " + RouteSessionCheck:      "check the cookie session against the NAS",
				"GET " + RouteSessionCheckToken: "check the bearer token against the NAS",
				"GET " + RouteFiles:             "list a folder (query: path)",
				"POST " + RouteUpload:           "upload a file (multipart: file, path, overwrite)",
				"POST " + RouteCreateFolder:     "create a folder",
				"POST " + RouteDelete:           "start a delete task",
				"GET " + RouteDeleteStatus:      "poll a delete task",
				"POST " + RouteShare:            "create sharing links",
				"POST " + RouteCompress:         "start a compression task",
				"GET " + RouteDownload:          "get a direct download URL (query: path)",
				"GET " + RouteHealth:            "service health and store stats",
				"GET " + RouteSessions:          "redacted session diagnostics",
			},
		})
	}
}

// HealthHandler reports store sizes and whether the persistence files are
// reachable on disk.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, "ok", map[string]interface{}{
			"app":           s.config.GetAppName(),
			"time":          time.Now().UTC().Format(time.RFC3339),
			"sessions":      len(s.broker.Sessions()),
			"tokens":        len(s.broker.Tokens()),
			"session_store": fileState(s.config.GetSessionFile()),
			"token_store":   fileState(s.config.GetTokenFile()),
		})
	}
}

// SessionsHandler exposes a redacted snapshot of both stores for operators.
// Upstream sids and syno tokens never leave the process.
func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Account      string    `json:"account"`
			CreatedAt    time.Time `json:"created_at"`
			LastActivity time.Time `json:"last_activity,omitempty"`
			ExpiresAt    time.Time `json:"expires_at"`
		}

		sessionEntries := make([]entry, 0)
		for _, record := range s.broker.Sessions() {
			sessionEntries = append(sessionEntries, entry{
				Account:      record.Account,
				CreatedAt:    record.CreatedAt,
				LastActivity: record.LastActivity,
				ExpiresAt:    record.ExpiresAt,
			})
		}

		tokenEntries := make([]entry, 0)
		for _, record := range s.broker.Tokens() {
			tokenEntries = append(tokenEntries, entry{
				Account:   record.Account,
				CreatedAt: record.CreatedAt,
				ExpiresAt: record.ExpiresAt,
			})
		}

		writeSuccess(w, "", map[string]interface{}{
			"sessions": sessionEntries,
			"tokens":   tokenEntries,
		})
	}
}

func fileState(path string) string {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "absent"
		}
		return "error"
	}
	return "present"
}

func sessionStatusView(status broker.SessionStatus) map[string]interface{} {
	return map[string]interface{}{
		"account":       status.Account,
		"created_at":    status.CreatedAt,
		"last_activity": status.LastActivity,
		"expires_at":    status.ExpiresAt,
		"valid":         status.Valid,
	}
}
