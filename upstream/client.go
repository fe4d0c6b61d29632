package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Auth is the live credential pair every authenticated upstream call carries:
// the DSM session id (_sid parameter) and its CSRF companion token
// (X-SYNO-TOKEN header).
type Auth struct {
	SID       string
	SynoToken string
}

// Client is a stateless wrapper around the DSM entry.cgi API. It holds no
// session state of its own; callers supply an Auth pair per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithInsecureTLS skips certificate verification. DSM boxes commonly run on
// self-signed certificates.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (primarily for testing).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Login authenticates against SYNO.API.Auth and returns the session pair.
// Never retries; classification of failures is the caller's job via the
// returned *APIError.
func (c *Client) Login(ctx context.Context, account, password string) (Auth, error) {
	params := url.Values{
		"api":                 {"SYNO.API.Auth"},
		"version":             {"7"},
		"method":              {"login"},
		"session":             {"webui"},
		"tabid":               {strconv.FormatInt(time.Now().Unix(), 10)},
		"enable_syno_token":   {"yes"},
		"account":             {account},
		"passwd":              {password},
		"logintype":           {"local"},
		"otp_code":            {""},
		"enable_device_token": {"no"},
		"timezone":            {"+08:00"},
		"rememberme":          {"1"},
		"client":              {"browser"},
	}

	data, err := c.get(ctx, params, nil)
	if err != nil {
		return Auth{}, errors.WithMessage(err, "[Client.Login] SYNO.API.Auth login")
	}

	var loginData struct {
		SID       string `json:"sid"`
		SynoToken string `json:"synotoken"`
	}
	if err := json.Unmarshal(data, &loginData); err != nil {
		return Auth{}, errors.Wrap(err, "[Client.Login] decode login data")
	}
	if loginData.SID == "" || loginData.SynoToken == "" {
		return Auth{}, errors.New("[Client.Login] login data missing sid or synotoken")
	}

	log.Debug().Str("account", account).Msg("upstream login succeeded")
	return Auth{SID: loginData.SID, SynoToken: loginData.SynoToken}, nil
}

// Logout is advisory cleanup. Failures are logged, never propagated.
func (c *Client) Logout(ctx context.Context, auth Auth) error {
	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"7"},
		"method":  {"logout"},
		"session": {"webui"},
	}

	if _, err := c.get(ctx, params, &auth); err != nil {
		log.Warn().Err(err).Msg("upstream logout failed")
	}
	return nil
}

// Validate performs a lightweight authenticated call and reports whether the
// pair is still accepted upstream. Any non-success answer counts as invalid.
func (c *Client) Validate(ctx context.Context, auth Auth) bool {
	params := url.Values{
		"api":     {"SYNO.FileStation.Info"},
		"version": {"2"},
		"method":  {"get"},
	}

	_, err := c.get(ctx, params, &auth)
	return err == nil
}

// get issues a GET against entry.cgi and decodes the response envelope.
// When auth is non-nil the _sid parameter and X-SYNO-TOKEN header are
// attached.
func (c *Client) get(ctx context.Context, params url.Values, auth *Auth) (json.RawMessage, error) {
	if auth != nil {
		params.Set("_sid", auth.SID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.get] build request")
	}
	if auth != nil {
		req.Header.Set("X-SYNO-TOKEN", auth.SynoToken)
	}

	return c.do(req)
}

// postForm issues an application/x-www-form-urlencoded POST against
// entry.cgi. DSM accepts the same parameter set in the body as in the query.
func (c *Client) postForm(ctx context.Context, params url.Values, auth *Auth) (json.RawMessage, error) {
	if auth != nil {
		params.Set("_sid", auth.SID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "[Client.postForm] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	if auth != nil {
		req.Header.Set("X-SYNO-TOKEN", auth.SynoToken)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.do] http request")
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp)
}

// envelope is the fixed success/error wrapper every entry.cgi response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code   int `json:"code"`
	Errors []struct {
		Code int `json:"code"`
	} `json:"errors"`
}

func decodeEnvelope(resp *http.Response) (json.RawMessage, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[decodeEnvelope] unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[decodeEnvelope] read body")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "[decodeEnvelope] non-JSON upstream response")
	}

	if !env.Success {
		code := 0
		if env.Error != nil {
			code = env.Error.Code
			// Batch operations report per-item codes in a nested list; the
			// first one is the most specific signal.
			if len(env.Error.Errors) > 0 && code != CodeSessionInvalid {
				code = env.Error.Errors[0].Code
			}
		}
		return nil, &APIError{Code: code}
	}

	return env.Data, nil
}
