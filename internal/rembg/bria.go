package rembg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

const (
	DefaultBriaURL = "https://engine.prod.bria-api.com/v1/background/remove"

	briaConnectTimeout = 5 * time.Second
	briaReadTimeout    = 30 * time.Second
	maxErrorBody       = 2048
	maxResultBytes     = 64 << 20
)

// APIError carries a non-2xx response from the hosted API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("background removal API returned status=%d body=%s", e.Status, e.Body)
}

type BriaConfig struct {
	Token        string
	Endpoint     string
	PollAttempts int
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// BriaRemover uploads images to the Bria background removal API and
// downloads the result from the returned result_url.
type BriaRemover struct {
	token        string
	endpoint     string
	pollAttempts int
	pollInterval time.Duration
	client       *http.Client
}

func NewBriaRemover(cfg BriaConfig) *BriaRemover {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultBriaURL
	}
	attempts := cfg.PollAttempts
	if attempts < 1 {
		attempts = 1
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: briaConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   briaConnectTimeout,
				ResponseHeaderTimeout: briaReadTimeout,
			},
		}
	}

	return &BriaRemover{
		token:        cfg.Token,
		endpoint:     endpoint,
		pollAttempts: attempts,
		pollInterval: interval,
		client:       client,
	}
}

func (b *BriaRemover) Name() string { return "bria" }

func (b *BriaRemover) Remove(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	if strings.TrimSpace(b.token) == "" {
		return nil, ErrMissingCredential
	}

	resultURL, err := b.submit(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	data, err := b.download(ctx, resultURL)
	if err != nil {
		return nil, err
	}

	out, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode background removal result: %w", err)
	}
	return imaging.Clone(out), nil
}

type briaResponse struct {
	ResultURL string   `json:"result_url"`
	URLs      []string `json:"urls"`
}

func (b *BriaRemover) submit(ctx context.Context, img image.Image, opts Options) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}
	if opts.ContentModeration {
		if err := writer.WriteField("content_moderation", "true"); err != nil {
			return "", fmt.Errorf("write content_moderation field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api_token", b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("background removal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apiError(resp)
	}

	var parsed briaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode background removal response: %w", err)
	}
	if parsed.ResultURL != "" {
		return parsed.ResultURL, nil
	}
	if len(parsed.URLs) > 0 && parsed.URLs[0] != "" {
		return parsed.URLs[0], nil
	}
	return "", ErrMissingResult
}

// download fetches the result, retrying while it is not ready yet.
func (b *BriaRemover) download(ctx context.Context, resultURL string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build result request: %w", err)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download result: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read result: %w", err)
			}
			return data, nil
		case notReady(resp.StatusCode) && attempt < b.pollAttempts:
			resp.Body.Close()
		default:
			err := apiError(resp)
			resp.Body.Close()
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

func notReady(status int) bool {
	return status == http.StatusNotFound || status == http.StatusAccepted || status == http.StatusForbidden
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
