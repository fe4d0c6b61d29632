package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Authentication
	RouteLogin             = "/api/login"
	RouteLoginToken        = "/api/login/token"
	RouteLogout            = "/api/logout"
	RouteLogoutToken       = "/api/logout/token"
	RouteSessionCheck      = "/api/session/check"
	RouteSessionCheckToken = "/api/session/check/token"

	// File management
	RouteFiles        = "/api/files"
	RouteUpload       = "/api/upload"
	RouteCreateFolder = "/api/create-folder"
	RouteDelete       = "/api/delete"
	RouteDeleteStatus = "/api/delete/status/{taskid}"
	RouteShare        = "/api/share"
	RouteCompress     = "/api/compress"
	RouteDownload     = "/api/download"

	// System
	RouteIndex    = "/"
	RouteHealth   = "/health"
	RouteSessions = "/api/sessions"
)
