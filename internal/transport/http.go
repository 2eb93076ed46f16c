package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPOptions configures a destination that speaks the platform's chunked
// upload protocol over plain HTTP/JSON.
type HTTPOptions struct {
	BaseURL      string   `yaml:"base_url"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

type HTTPTransport struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPTransport builds the client for an HTTP/JSON destination. When a
// token URL is configured, requests carry a client-credentials bearer token
// that refreshes itself. All traffic goes through an otel-instrumented
// round tripper.
func NewHTTPTransport(ctx context.Context, opts HTTPOptions) (*HTTPTransport, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad base url %s: %w", opts.BaseURL, err)
	}

	return &HTTPTransport{
		base:   base,
		client: newHTTPClient(ctx, opts.TokenURL, opts.ClientID, opts.ClientSecret, opts.Scopes),
	}, nil
}

// newHTTPClient returns an otel-instrumented client, wrapped with a
// self-refreshing client-credentials token source when a token URL is set.
func newHTTPClient(ctx context.Context, tokenURL string, clientID string, clientSecret string, scopes []string) *http.Client {
	inner := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	if tokenURL == "" {
		return inner
	}
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return conf.Client(context.WithValue(ctx, oauth2.HTTPClient, inner))
}

type createSessionRequest struct {
	ID          string            `json:"id"`
	FileName    string            `json:"file_name"`
	FileSize    int64             `json:"file_size"`
	ChunkSize   int64             `json:"chunk_size"`
	TotalChunks int64             `json:"total_chunks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type uploadChunkResponse struct {
	ChunkID string `json:"chunk_id"`
}

type sessionStatusResponse struct {
	ReceivedChunks int64 `json:"received_chunks"`
}

func (ht *HTTPTransport) remote(sess *session.Session) string {
	if sess.RemoteID != "" {
		return sess.RemoteID
	}
	return sess.ID
}

func (ht *HTTPTransport) CreateSession(ctx context.Context, sess *session.Session) error {
	body, err := json.Marshal(createSessionRequest{
		ID:          sess.ID,
		FileName:    sess.FileName,
		FileSize:    sess.FileSize,
		ChunkSize:   sess.ChunkSize,
		TotalChunks: sess.TotalChunks,
		Metadata:    sess.Metadata,
	})
	if err != nil {
		return err
	}

	u := ht.base.JoinPath("sessions").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ht.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create session at %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return respError("create session", resp)
	}

	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read create session response: %w", err)
	}
	sess.RemoteID = created.ID
	if sess.RemoteID == "" {
		sess.RemoteID = sess.ID
	}
	return nil
}

func (ht *HTTPTransport) UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (string, error) {
	u := ht.base.JoinPath("sessions", ht.remote(sess), "chunks", strconv.FormatInt(index, 10)).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := ht.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload chunk %d: %w", index, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		return "", respError(fmt.Sprintf("upload chunk %d", index), resp)
	}

	var ack uploadChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read chunk %d response: %w", index, err)
	}
	if ack.ChunkID == "" {
		ack.ChunkID = strconv.FormatInt(index, 10)
	}
	return ack.ChunkID, nil
}

func (ht *HTTPTransport) FinalizeSession(ctx context.Context, sess *session.Session) (*FinalizeResult, error) {
	u := ht.base.JoinPath("sessions", ht.remote(sess), "finalize").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ht.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize session %s: %w", sess.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, respError("finalize session", resp)
	}

	result := &FinalizeResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read finalize response: %w", err)
	}
	if result.ID == "" {
		result.ID = ht.remote(sess)
	}
	if result.Location == "" {
		result.Location = ht.base.JoinPath("sessions", ht.remote(sess)).String()
	}
	return result, nil
}

func (ht *HTTPTransport) ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error) {
	u := ht.base.JoinPath("sessions", ht.remote(sess)).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := ht.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to get session %s: %w", sess.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, respError("get session", resp)
	}

	var status sessionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return 0, fmt.Errorf("failed to read session status: %w", err)
	}
	return status.ReceivedChunks, nil
}

func (ht *HTTPTransport) AbortSession(ctx context.Context, sess *session.Session) error {
	u := ht.base.JoinPath("sessions", ht.remote(sess)).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := ht.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to abort session %s: %w", sess.ID, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		// Already gone on the server; abort is best effort.
		return nil
	default:
		return respError("abort session", resp)
	}
}

func (ht *HTTPTransport) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "HTTP destination " + ht.base.String()
	rsp.Status = models.STATUS_UP

	u := ht.base.JoinPath("health").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
		return rsp
	}
	resp, err := ht.client.Do(req)
	if err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
		return rsp
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = "health endpoint returned " + resp.Status
	}
	return rsp
}

func respError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}
	return fmt.Errorf("%s: unexpected status %s: %s", op, resp.Status, msg)
}
