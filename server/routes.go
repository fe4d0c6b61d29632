package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteIndex, s.api(s.IndexHandler()))
	s.RegisterRouteHandler("GET "+RouteHealth, s.api(s.HealthHandler()))
	s.RegisterRouteHandler("GET "+RouteSessions, s.api(s.SessionsHandler()))

	// Authentication
	s.RegisterRouteHandler("POST "+RouteLogin, s.api(s.LoginHandler()))
	s.RegisterRouteHandler("POST "+RouteLoginToken, s.api(s.TokenLoginHandler()))
	s.RegisterRouteHandler("POST "+RouteLogout, s.api(s.LogoutHandler()))
	s.RegisterRouteHandler("POST "+RouteLogoutToken, s.api(s.TokenLogoutHandler()))
	s.RegisterRouteHandler("GET "+RouteSessionCheck, s.api(s.SessionCheckHandler()))
	s.RegisterRouteHandler("GET "+RouteSessionCheckToken, s.api(s.TokenSessionCheckHandler()))

	// File management (all auto-relogin wrapped through the broker)
	s.RegisterRouteHandler("GET "+RouteFiles, s.api(s.FilesHandler()))
	s.RegisterRouteHandler("POST "+RouteUpload, s.api(s.UploadHandler()))
	s.RegisterRouteHandler("POST "+RouteCreateFolder, s.api(s.CreateFolderHandler()))
	s.RegisterRouteHandler("POST "+RouteDelete, s.api(s.DeleteHandler()))
	s.RegisterRouteHandler("GET "+RouteDeleteStatus, s.api(s.DeleteStatusHandler()))
	s.RegisterRouteHandler("POST "+RouteShare, s.api(s.ShareHandler()))
	s.RegisterRouteHandler("POST "+RouteCompress, s.api(s.CompressHandler()))
	s.RegisterRouteHandler("GET "+RouteDownload, s.api(s.DownloadHandler()))

	// Preflight requests land here; CorsMiddleware answers them.
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, s.CorsMiddleware))
}

// api applies the standard middleware stack for JSON API routes.
func (s *Server) api(handler func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return ChainMiddleware(handler, s.LoggingMiddleware, s.RecoverMiddleware, s.CorsMiddleware)
}
