package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookieName = "gateway_session"

type loginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// LoginHandler authenticates against the NAS and binds the resulting upstream
// session to a freshly minted local cookie. The id is never taken from the
// request, so a planted cookie value can never be bound to the new session.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}

		localID := uuid.NewString()
		if err := s.broker.Login(r.Context(), localID, req.Account, req.Password); err != nil {
			writeBrokerError(w, r, err)
			return
		}

		// A repeat login retires the caller's previous binding; the old
		// session must not linger until expiry.
		if old := localSessionID(r); old != "" {
			_ = s.broker.Logout(r.Context(), old)
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    localID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		writeSuccess(w, "login successful", map[string]string{"account": req.Account})
	}
}

// TokenLoginHandler authenticates against the NAS and mints an opaque bearer
// token for cookie-less clients.
func (s *Server) TokenLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}

		token, err := s.broker.LoginToken(r.Context(), req.Account, req.Password)
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "login successful", map[string]string{
			"token":   token,
			"account": req.Account,
		})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if localID := localSessionID(r); localID != "" {
			_ = s.broker.Logout(r.Context(), localID)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		writeSuccess(w, "logged out", nil)
	}
}

func (s *Server) TokenLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusBadRequest, "bearer token is required")
			return
		}
		_ = s.broker.LogoutToken(r.Context(), token)
		writeSuccess(w, "token revoked", nil)
	}
}

// SessionCheckHandler reports whether the caller's cookie session still maps
// to an upstream session the NAS accepts.
func (s *Server) SessionCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		localID := localSessionID(r)
		if localID == "" {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		status, err := s.broker.Check(r.Context(), localID)
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "", sessionStatusView(status))
	}
}

func (s *Server) TokenSessionCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		status, err := s.broker.CheckToken(r.Context(), token)
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "", sessionStatusView(status))
	}
}

// localSessionID extracts the local cookie identity, if any.
func localSessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// bearerToken extracts the bearer identity from the Authorization header or,
// for download links a browser cannot attach headers to, a "token" query
// parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
