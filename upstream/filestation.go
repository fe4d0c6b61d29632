package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ListFolder returns the raw listing of a folder with the additional fields
// the web UI needs.
func (c *Client) ListFolder(ctx context.Context, auth Auth, folderPath string) (json.RawMessage, error) {
	params := url.Values{
		"api":            {"SYNO.FileStation.List"},
		"version":        {"2"},
		"method":         {"list"},
		"folder_path":    {folderPath},
		"filetype":       {"all"},
		"sort_by":        {"name"},
		"sort_direction": {"ASC"},
		"offset":         {"0"},
		"limit":          {"1000"},
		"additional":     {`["real_path","size","owner","time","perm","type"]`},
	}

	data, err := c.get(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.ListFolder]")
	}
	return data, nil
}

// Upload sends a file to SYNO.FileStation.Upload as a multipart POST. The
// file part must come after the option fields or DSM rejects the request.
func (c *Client) Upload(ctx context.Context, auth Auth, destPath, fileName string, size int64, content io.Reader, overwrite bool) (json.RawMessage, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"mtime":     strconv.FormatInt(time.Now().UnixMilli(), 10),
		"overwrite": strconv.FormatBool(overwrite),
		"path":      destPath,
		"size":      strconv.FormatInt(size, 10),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, errors.Wrap(err, "[Client.Upload] write field")
		}
	}

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Upload] create file part")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(err, "[Client.Upload] copy file content")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "[Client.Upload] close multipart writer")
	}

	uploadURL := c.baseURL + "?" + url.Values{
		"api":     {"SYNO.FileStation.Upload"},
		"version": {"2"},
		"method":  {"upload"},
		"_sid":    {auth.SID},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Upload] build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-SYNO-TOKEN", auth.SynoToken)

	data, err := c.do(req)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.Upload]")
	}
	return data, nil
}

// CreateFolder creates a folder under folderPath. DSM expects the path and
// name parameters JSON-quoted.
func (c *Client) CreateFolder(ctx context.Context, auth Auth, folderPath, name string, forceParent bool) (json.RawMessage, error) {
	params := url.Values{
		"api":          {"SYNO.FileStation.CreateFolder"},
		"version":      {"2"},
		"method":       {"create"},
		"folder_path":  {jsonQuote(folderPath)},
		"name":         {jsonQuote(name)},
		"force_parent": {strconv.FormatBool(forceParent)},
	}

	data, err := c.postForm(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.CreateFolder]")
	}
	return data, nil
}

// Delete starts an asynchronous delete task and returns its taskid envelope.
func (c *Client) Delete(ctx context.Context, auth Auth, paths []string) (json.RawMessage, error) {
	params := url.Values{
		"api":               {"SYNO.FileStation.Delete"},
		"version":           {"2"},
		"method":            {"start"},
		"path":              {jsonQuoteList(paths)},
		"accurate_progress": {"true"},
	}

	data, err := c.get(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.Delete]")
	}
	return data, nil
}

// DeleteStatus reports progress of a delete task started by Delete.
func (c *Client) DeleteStatus(ctx context.Context, auth Auth, taskID string) (json.RawMessage, error) {
	params := url.Values{
		"api":     {"SYNO.FileStation.Delete"},
		"version": {"2"},
		"method":  {"status"},
		"taskid":  {jsonQuote(taskID)},
	}

	data, err := c.get(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.DeleteStatus]")
	}
	return data, nil
}

// ShareOptions carries the optional restrictions of a sharing link.
type ShareOptions struct {
	Password      string
	DateExpired   string
	DateAvailable string
}

// CreateShare creates sharing links for the given paths.
func (c *Client) CreateShare(ctx context.Context, auth Auth, paths []string, opts ShareOptions) (json.RawMessage, error) {
	params := url.Values{
		"api":     {"SYNO.FileStation.Sharing"},
		"version": {"3"},
		"method":  {"create"},
		"path":    {jsonQuoteList(paths)},
	}
	if opts.Password != "" {
		params.Set("password", opts.Password)
	}
	if opts.DateExpired != "" {
		params.Set("date_expired", opts.DateExpired)
	}
	if opts.DateAvailable != "" {
		params.Set("date_available", opts.DateAvailable)
	}

	data, err := c.postForm(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.CreateShare]")
	}
	return data, nil
}

// CompressOptions mirror the DSM compression job parameters. Zero values fall
// back to the DSM web UI defaults.
type CompressOptions struct {
	Level    string
	Mode     string
	Format   string
	Codepage string
	Password string
}

func (o CompressOptions) withDefaults() CompressOptions {
	if o.Level == "" {
		o.Level = "normal"
	}
	if o.Mode == "" {
		o.Mode = "replace"
	}
	if o.Format == "" {
		o.Format = "zip"
	}
	if o.Codepage == "" {
		o.Codepage = "cht"
	}
	return o
}

// Compress starts an asynchronous compression task.
func (c *Client) Compress(ctx context.Context, auth Auth, sourcePaths []string, destPath string, opts CompressOptions) (json.RawMessage, error) {
	opts = opts.withDefaults()

	params := url.Values{
		"api":            {"SYNO.FileStation.Compress"},
		"version":        {"3"},
		"method":         {"start"},
		"path":           {jsonQuoteList(sourcePaths)},
		"dest_file_path": {jsonQuote(destPath)},
		"level":          {jsonQuote(opts.Level)},
		"mode":           {jsonQuote(opts.Mode)},
		"format":         {jsonQuote(opts.Format)},
		"codepage":       {jsonQuote(opts.Codepage)},
	}
	if opts.Password != "" {
		params.Set("password", opts.Password)
	}

	data, err := c.postForm(ctx, params, &auth)
	if err != nil {
		return nil, errors.WithMessage(err, "[Client.Compress]")
	}
	return data, nil
}

// jsonQuote renders a single string the way DSM expects JSON-typed
// parameters: as a quoted JSON value.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsonQuoteList(values []string) string {
	b, _ := json.Marshal(values)
	return string(b)
}
