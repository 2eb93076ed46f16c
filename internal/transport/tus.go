package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
)

const tusVersion = "1.0.0"

// TusOptions configures a destination fronted by a tus 1.0.0 server.
type TusOptions struct {
	Endpoint     string   `yaml:"endpoint"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// TusTransport speaks the tus 1.0.0 resumable upload protocol: one creation
// request, then one PATCH per chunk at the chunk's byte offset. The server
// tracks a single committed offset, which doubles as the reconcile source.
type TusTransport struct {
	endpoint *url.URL
	client   *http.Client
}

func NewTusTransport(ctx context.Context, opts TusOptions) (*TusTransport, error) {
	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bad tus endpoint %s: %w", opts.Endpoint, err)
	}
	return &TusTransport{
		endpoint: endpoint,
		client:   newHTTPClient(ctx, opts.TokenURL, opts.ClientID, opts.ClientSecret, opts.Scopes),
	}, nil
}

// encodeMetadata renders the Upload-Metadata header: comma-separated
// "key base64(value)" pairs, keys sorted for a stable header.
func encodeMetadata(sess *session.Session) string {
	m := map[string]string{
		"filename": sess.FileName,
	}
	for k, v := range sess.Metadata {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(m[k])))
	}
	return strings.Join(pairs, ",")
}

func (tt *TusTransport) CreateSession(ctx context.Context, sess *session.Session) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tt.endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Upload-Length", strconv.FormatInt(sess.FileSize, 10))
	req.Header.Set("Upload-Metadata", encodeMetadata(sess))

	resp, err := tt.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create tus upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return respError("create tus upload", resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("create tus upload: no Location header in response")
	}
	u, err := tt.endpoint.Parse(location)
	if err != nil {
		return fmt.Errorf("create tus upload: bad Location %s: %w", location, err)
	}
	sess.RemoteID = u.String()
	return nil
}

func (tt *TusTransport) UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (string, error) {
	start, end := sess.Plan().Range(index)
	chunkID, err := tt.patch(ctx, sess, start, r, size)
	if err == nil {
		return chunkID, nil
	}

	// On an offset conflict ask the server where it actually is. A replayed
	// chunk the server already holds is a success; a torn chunk gets its
	// remainder re-sent from the committed offset.
	offset, headErr := tt.offset(ctx, sess)
	if headErr != nil {
		return "", err
	}
	if offset >= end {
		return strconv.FormatInt(end, 10), nil
	}
	if rs, ok := r.(io.ReadSeeker); ok && offset > start {
		if _, err := rs.Seek(offset-start, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to seek to committed offset of chunk %d: %w", index, err)
		}
		return tt.patch(ctx, sess, offset, rs, end-offset)
	}
	return "", err
}

func (tt *TusTransport) patch(ctx context.Context, sess *session.Session, offset int64, r io.Reader, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, sess.RemoteID, r)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := tt.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to patch upload at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return "", respError(fmt.Sprintf("patch upload at offset %d", offset), resp)
	}
	return resp.Header.Get("Upload-Offset"), nil
}

func (tt *TusTransport) offset(ctx context.Context, sess *session.Session) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sess.RemoteID, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Tus-Resumable", tusVersion)

	resp, err := tt.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to head tus upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, respError("head tus upload", resp)
	}
	return strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
}

// FinalizeSession verifies the server holds every byte. tus has no assemble
// step; an upload is complete when the committed offset reaches the length.
func (tt *TusTransport) FinalizeSession(ctx context.Context, sess *session.Session) (*FinalizeResult, error) {
	offset, err := tt.offset(ctx, sess)
	if err != nil {
		return nil, err
	}
	if offset != sess.FileSize {
		return nil, fmt.Errorf("tus upload incomplete: server has %d of %d bytes", offset, sess.FileSize)
	}
	u, err := url.Parse(sess.RemoteID)
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{
		ID:       path.Base(u.Path),
		Location: sess.RemoteID,
	}, nil
}

func (tt *TusTransport) ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error) {
	offset, err := tt.offset(ctx, sess)
	if err != nil {
		return 0, err
	}
	if sess.FileSize > 0 && offset >= sess.FileSize {
		return sess.TotalChunks, nil
	}
	// Partial trailing bytes are re-sent, so only whole chunks count.
	return offset / sess.ChunkSize, nil
}

func (tt *TusTransport) AbortSession(ctx context.Context, sess *session.Session) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sess.RemoteID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Tus-Resumable", tusVersion)

	resp, err := tt.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to terminate tus upload: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return respError("terminate tus upload", resp)
	}
}

func (tt *TusTransport) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "tus destination " + tt.endpoint.String()
	rsp.Status = models.STATUS_UP

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, tt.endpoint.String(), nil)
	if err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
		return rsp
	}
	resp, err := tt.client.Do(req)
	if err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
		return rsp
	}
	defer resp.Body.Close()
	if resp.Header.Get("Tus-Version") == "" {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = "endpoint does not advertise a tus version"
	}
	return rsp
}
