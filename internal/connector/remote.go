package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/ocr"
)

// Remote call limits.
const (
	DefaultRemoteTimeout = 15 * time.Second
	CheckTimeout         = 5 * time.Second
	maxResponseBytes     = 4 << 20
)

// Remote posts images to a custom HTTP OCR provider.
type Remote struct {
	def        Definition
	httpClient *http.Client
}

type remoteRequest struct {
	ImageBase64 string   `json:"image_base64"`
	Languages   []string `json:"languages,omitempty"`
	Kind        string   `json:"kind,omitempty"`
}

// NewRemote creates a remote connector.
func NewRemote(def Definition) *Remote {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Remote{
		def: def,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *Remote) Name() string       { return r.def.Name }
func (r *Remote) Provider() Provider { return r.def.Provider }

// Run posts the image and maps the JSON response. Transport errors,
// timeouts and non-2xx responses are RemoteProviderErrors.
func (r *Remote) Run(ctx context.Context, png []byte, cfg ocr.Config) (ocr.Attempt, error) {
	payload, err := json.Marshal(remoteRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(png),
		Languages:   cfg.Languages,
		Kind:        cfg.Kind.String(),
	})
	if err != nil {
		return ocr.Attempt{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.def.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(r.def.Name, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ocr.Attempt{}, ctx.Err()
		}
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(r.def.Name, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(r.def.Name, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(r.def.Name, resp.StatusCode,
			fmt.Errorf("%s", truncate(string(body), 200)))
	}

	att, err := decodeResponse(body, cfg)
	if err != nil {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(r.def.Name, resp.StatusCode, err)
	}
	att.Connector = r.def.Name
	return att, nil
}

// Check issues a GET against the endpoint; 200 and 204 are healthy.
func (r *Remote) Check(ctx context.Context) error {
	if r.def.Endpoint == "" {
		return fmt.Errorf("connector %s has no endpoint configured", r.def.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.def.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create check request: %w", err)
	}
	r.authorize(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return ocrerrors.NewRemoteProviderError(r.def.Name, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return ocrerrors.NewRemoteProviderError(r.def.Name, resp.StatusCode, nil)
	}
	return nil
}

func (r *Remote) authorize(req *http.Request) {
	if r.def.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.def.APIKey)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
