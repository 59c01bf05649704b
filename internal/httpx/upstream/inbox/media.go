package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// SignedUpload is an upload slot issued by the API
type SignedUpload struct {
	ID        string `json:"id"`
	UploadURL string `json:"uploadURL"`
}

// MediaLink is a short-lived download link
type MediaLink struct {
	Link string `json:"link"`
}

// StartSignedUpload reserves an upload slot for a file of mimeType
func (c *Client) StartSignedUpload(ctx context.Context, mimeType string) (*SignedUpload, error) {
	in := map[string]string{"mimeType": mimeType}

	var out SignedUpload
	if err := c.call(ctx, http.MethodPost, "/media/upload", in, &out); err != nil {
		return nil, fmt.Errorf("starting upload: %w", err)
	}
	return &out, nil
}

// UploadMedia PUTs raw bytes to a signed URL. The URL is pre-authorized,
// so no bearer token is attached.
func (c *Client) UploadMedia(ctx context.Context, uploadURL, mimeType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: "media upload rejected"}
	}
	return nil
}

// ConfirmSignedUpload marks an upload as complete
func (c *Client) ConfirmSignedUpload(ctx context.Context, mediaID string) error {
	path := "/media/" + url.PathEscape(mediaID) + "/confirm-upload"
	if err := c.call(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("confirming upload: %w", err)
	}
	return nil
}

// DownloadMedia returns a download link for a media object
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (*MediaLink, error) {
	var out MediaLink
	if err := c.call(ctx, http.MethodGet, "/media/"+url.PathEscape(mediaID)+"/download", nil, &out); err != nil {
		return nil, fmt.Errorf("getting media link: %w", err)
	}
	return &out, nil
}

// UploadImage runs the full signed-upload flow and returns the media id
func (c *Client) UploadImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	slot, err := c.StartSignedUpload(ctx, mimeType)
	if err != nil {
		return "", err
	}
	if err := c.UploadMedia(ctx, slot.UploadURL, mimeType, data); err != nil {
		return "", err
	}
	if err := c.ConfirmSignedUpload(ctx, slot.ID); err != nil {
		return "", err
	}
	return slot.ID, nil
}
