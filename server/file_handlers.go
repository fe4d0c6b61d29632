package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/simplenas/nas-gateway/broker"
	"github.com/simplenas/nas-gateway/upstream"
)

const defaultBrowsePath = "/home/www"

// executeAs runs op under the broker's relogin policy for whichever identity
// the request carries. Bearer tokens win over cookies so API clients behind a
// browser keep their own upstream session.
func (s *Server) executeAs(r *http.Request, op broker.Operation) error {
	if token := bearerToken(r); token != "" {
		return s.broker.ExecuteToken(r.Context(), token, op)
	}
	if localID := localSessionID(r); localID != "" {
		return s.broker.Execute(r.Context(), localID, op)
	}
	return broker.ErrUnauthenticated
}

// resolveAs returns the live upstream pair for the request's identity without
// running an upstream operation. Only the download handler needs this; it
// builds a URL instead of calling the NAS.
func (s *Server) resolveAs(r *http.Request) (upstream.Auth, error) {
	if token := bearerToken(r); token != "" {
		return s.broker.ResolveToken(token)
	}
	if localID := localSessionID(r); localID != "" {
		return s.broker.Resolve(localID)
	}
	return upstream.Auth{}, broker.ErrUnauthenticated
}

// FilesHandler lists a folder, defaulting to the shared web root.
func (s *Server) FilesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folderPath := r.URL.Query().Get("path")
		if folderPath == "" {
			folderPath = defaultBrowsePath
		}

		var listing json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			listing, opErr = s.nas.ListFolder(ctx, auth, folderPath)
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "", map[string]interface{}{
			"files":        listing,
			"current_path": folderPath,
		})
	}
}

// UploadHandler forwards a multipart upload to the NAS.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 256 MiB in memory before spilling to temp files.
		if err := r.ParseMultipartForm(256 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "request must be multipart form data")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		destPath := r.FormValue("path")
		if destPath == "" {
			destPath = defaultBrowsePath
		}
		overwrite := r.FormValue("overwrite") == "true"

		var result json.RawMessage
		err = s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			if _, seekErr := file.Seek(0, 0); seekErr != nil {
				return seekErr
			}
			var opErr error
			result, opErr = s.nas.Upload(ctx, auth, destPath, header.Filename, header.Size, file, overwrite)
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "upload complete", result)
	}
}

type createFolderRequest struct {
	FolderPath  string `json:"folder_path"`
	Name        string `json:"name"`
	ForceParent bool   `json:"force_parent"`
}

func (s *Server) CreateFolderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFolderRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}
		if req.FolderPath == "" || req.Name == "" {
			writeError(w, http.StatusBadRequest, "folder_path and name are required")
			return
		}

		var result json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			result, opErr = s.nas.CreateFolder(ctx, auth, req.FolderPath, req.Name, req.ForceParent)
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "folder created", result)
	}
}

type deleteRequest struct {
	Paths []string `json:"paths"`
}

// DeleteHandler starts an asynchronous delete task on the NAS and hands the
// task id back for polling.
func (s *Server) DeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}
		if len(req.Paths) == 0 {
			writeError(w, http.StatusBadRequest, "paths are required")
			return
		}

		var result json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			result, opErr = s.nas.Delete(ctx, auth, req.Paths)
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "delete started", result)
	}
}

func (s *Server) DeleteStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("taskid")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "taskid is required")
			return
		}

		var result json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			result, opErr = s.nas.DeleteStatus(ctx, auth, taskID)
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "", result)
	}
}

type shareRequest struct {
	Paths         []string `json:"paths"`
	Password      string   `json:"password"`
	DateExpired   string   `json:"date_expired"`
	DateAvailable string   `json:"date_available"`
}

func (s *Server) ShareHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shareRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}
		if len(req.Paths) == 0 {
			writeError(w, http.StatusBadRequest, "paths are required")
			return
		}

		var result json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			result, opErr = s.nas.CreateShare(ctx, auth, req.Paths, upstream.ShareOptions{
				Password:      req.Password,
				DateExpired:   req.DateExpired,
				DateAvailable: req.DateAvailable,
			})
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "share links created", result)
	}
}

type compressRequest struct {
	SourcePaths []string `json:"source_paths"`
	DestPath    string   `json:"dest_path"`
	Level       string   `json:"level"`
	Mode        string   `json:"mode"`
	Format      string   `json:"format"`
	Codepage    string   `json:"codepage"`
	Password    string   `json:"password"`
}

func (s *Server) CompressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req compressRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeBrokerError(w, r, err)
			return
		}
		if len(req.SourcePaths) == 0 || req.DestPath == "" {
			writeError(w, http.StatusBadRequest, "source_paths and dest_path are required")
			return
		}

		var result json.RawMessage
		err := s.executeAs(r, func(ctx context.Context, auth upstream.Auth) error {
			var opErr error
			result, opErr = s.nas.Compress(ctx, auth, req.SourcePaths, req.DestPath, upstream.CompressOptions{
				Level:    req.Level,
				Mode:     req.Mode,
				Format:   req.Format,
				Codepage: req.Codepage,
				Password: req.Password,
			})
			return opErr
		})
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "compression started", result)
	}
}

// DownloadHandler builds a direct fbdownload URL carrying the live session
// pair, so the browser fetches the file from the NAS without the file body
// passing through this service.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := r.URL.Query().Get("path")
		if filePath == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}

		auth, err := s.resolveAs(r)
		if err != nil {
			writeBrokerError(w, r, err)
			return
		}
		writeSuccess(w, "", map[string]string{"url": s.nas.DownloadURL(auth, filePath)})
	}
}
