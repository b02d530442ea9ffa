package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// uploadChunkSize is the session chunk size: 10 × 320 KiB = 3.125 MiB.
const uploadChunkSize = 10 * chunkAlignment

// simpleUploadMaxSize is the maximum file size for simple (single-request) upload (4 MB).
// Files larger than this must use resumable upload sessions.
const simpleUploadMaxSize = 4 * 1024 * 1024

// conflictRename keeps both files when the name is already taken.
const conflictRename = "rename"

// cancelSessionTimeout bounds the best-effort session cleanup after a failed upload.
const cancelSessionTimeout = 10 * time.Second

// Upload session request/response types for Graph API JSON serialization.
type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// Upload stores data as folder/name in the signed-in user's drive,
// creating folder if needed. An existing file with the same name is kept
// and the new one is renamed by the service. Small payloads use a single
// PUT; larger ones go through an upload session.
func (c *Client) Upload(ctx context.Context, folder, name string, data []byte) (*Item, error) {
	path := "/me/drive/root:/" + encodePathSegments(folder+"/"+name) + ":"

	if len(data) <= simpleUploadMaxSize {
		return c.SimpleUpload(ctx, path, bytes.NewReader(data), int64(len(data)))
	}

	session, err := c.CreateUploadSession(ctx, path, int64(len(data)))
	if err != nil {
		return nil, err
	}

	item, err := c.uploadChunks(ctx, session, data)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelSessionTimeout)
		defer cancel()

		if cancelErr := c.CancelUploadSession(cleanupCtx, session); cancelErr != nil {
			c.logger.Warn("failed to cancel upload session",
				slog.String("error", cancelErr.Error()),
			)
		}

		return nil, err
	}

	return item, nil
}

// uploadChunks sends data to session in aligned chunks and returns the
// item created by the final chunk.
func (c *Client) uploadChunks(ctx context.Context, session *UploadSession, data []byte) (*Item, error) {
	total := int64(len(data))

	for offset := int64(0); offset < total; offset += uploadChunkSize {
		end := min(offset+uploadChunkSize, total)

		item, err := c.UploadChunk(ctx, session, bytes.NewReader(data[offset:end]), offset, end-offset, total)
		if err != nil {
			return nil, err
		}

		if item != nil {
			return item, nil
		}
	}

	return nil, fmt.Errorf("graph: upload session accepted all %d bytes but returned no item", total)
}

// SimpleUpload uploads up to 4 MB with a single PUT to itemPath
// ("/me/drive/root:/folder/name:" form).
// The content is sent with application/octet-stream content type.
func (c *Client) SimpleUpload(ctx context.Context, itemPath string, r io.Reader, size int64) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("path", itemPath),
		slog.Int64("size", size),
	)

	path := itemPath + "/content?@microsoft.graph.conflictBehavior=" + conflictRename

	resp, err := c.doRawUpload(ctx, http.MethodPut, path, "application/octet-stream", r, size)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding simple upload response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// CreateUploadSession creates a resumable upload session for itemPath.
// The returned UploadSession contains a pre-authenticated upload URL.
func (c *Client) CreateUploadSession(ctx context.Context, itemPath string, size int64) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("path", itemPath),
		slog.Int64("size", size),
	)

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: conflictRename},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemPath+"/createUploadSession", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.parseUploadSessionResponse(resp)
}

// UploadChunk uploads a chunk of data to an upload session.
// Returns the completed Item on the final chunk (201/200), nil for intermediate chunks (202).
// offset is the byte offset, length is the chunk size, total is the full file size.
// The session URL is pre-authenticated, so no Authorization header is sent.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk io.Reader,
	offset, length, total int64,
) (*Item, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, chunk)
	if err != nil {
		return nil, fmt.Errorf("graph: creating chunk upload request: %w", err)
	}

	req.Header.Set("Content-Range", contentRange)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: chunk upload request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.handleChunkResponse(resp)
}

// handleChunkResponse processes the HTTP response from an upload chunk request.
// 202 Accepted means intermediate chunk; 200/201 means upload complete with item data.
func (c *Client) handleChunkResponse(resp *http.Response) (*Item, error) {
	switch resp.StatusCode {
	case http.StatusAccepted:
		// Drain body to reuse connection.
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining chunk response body: %w", drainErr)
		}

		return nil, nil

	case http.StatusOK, http.StatusCreated:
		var dir driveItemResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
			return nil, fmt.Errorf("graph: decoding final chunk response: %w", decErr)
		}

		item := dir.toItem(c.logger)

		c.logger.Debug("upload complete",
			slog.String("item_id", item.ID),
			slog.String("item_name", item.Name),
		)

		return &item, nil

	case http.StatusRequestedRangeNotSatisfiable:
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining 416 response body: %w", drainErr)
		}

		return nil, ErrRangeNotSatisfiable

	default:
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		c.logger.Error("chunk upload failed",
			slog.Int("status", resp.StatusCode),
		)

		return nil, newGraphError(resp, body)
	}
}

// CancelUploadSession cancels an in-progress upload session.
// The session URL is pre-authenticated, so no Authorization header is sent.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, session.UploadURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("graph: creating cancel session request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: cancel upload session request failed: %w", err)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("graph: draining cancel session response body: %w", drainErr)
	}

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("graph: cancel upload session failed with status %d", resp.StatusCode)
	}

	c.logger.Debug("upload session canceled")

	return nil
}

// doRawUpload sends an authenticated request with a custom content type.
// Unlike Do(), this does not retry.
func (c *Client) doRawUpload(
	ctx context.Context, method, path, contentType string, body io.Reader, size int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating raw upload request: %w", err)
	}

	if err := c.authorize(req); err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("raw upload request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("graph: raw upload request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		resp.Body.Close()

		return nil, newGraphError(resp, errBody)
	}

	return resp, nil
}

// parseUploadSessionResponse parses the HTTP response from CreateUploadSession.
func (c *Client) parseUploadSessionResponse(resp *http.Response) (*UploadSession, error) {
	var usr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&usr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	if usr.UploadURL == "" {
		return nil, fmt.Errorf("graph: upload session response has no uploadUrl")
	}

	expTime, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime)
	if parseErr != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", usr.ExpirationDateTime),
			slog.String("error", parseErr.Error()),
		)
	}

	return &UploadSession{
		UploadURL:      usr.UploadURL,
		ExpirationTime: expTime,
	}, nil
}
