// Package storage relays uploaded workbooks to the external file storage service.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnavailable = errors.New("storage service unavailable")
	ErrRejected    = errors.New("storage service rejected the upload")
)

// maxResponseBytes bounds how much of the storage reply is read back.
const maxResponseBytes = 1 << 20

// File is a workbook to relay.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Client talks to the storage service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg domain.StorageConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer("kestrel/storage"),
	}
}

// Upload posts the file and its date range as multipart parts "file" and
// "fileInfo", forwarding the caller's Authorization header.
// It returns the storage service response body.
func (c *Client) Upload(ctx context.Context, token string, f File, info domain.FileInfo) (string, error) {
	ctx, span := c.tracer.Start(ctx, "storage.Upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("file.name", f.Name),
		attribute.Int("file.size", len(f.Content)),
	)

	body, contentType, err := encode(f, info)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.StorageUploads.WithLabelValues("failed").Inc()
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.StorageUploads.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.StorageUploads.WithLabelValues("failed").Inc()
		return string(reply), fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(reply)))
	}

	metrics.StorageUploads.WithLabelValues("success").Inc()
	return string(reply), nil
}

func encode(f File, info domain.FileInfo) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	fileHeader.Set("Content-Type", contentType)
	part, err := mw.CreatePart(fileHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(f.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal file info: %w", err)
	}
	infoHeader := make(textproto.MIMEHeader)
	infoHeader.Set("Content-Disposition", `form-data; name="fileInfo"`)
	infoHeader.Set("Content-Type", "application/json")
	part, err = mw.CreatePart(infoHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create fileInfo part: %w", err)
	}
	if _, err := part.Write(infoJSON); err != nil {
		return nil, "", fmt.Errorf("failed to write fileInfo part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
