package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
)

// MaxUploadSize is the maximum allowed upload size (16MB)
const MaxUploadSize = 16 << 20

// MediaAPI defines the signed upload operations
type MediaAPI interface {
	UploadImage(ctx context.Context, mimeType string, data []byte) (string, error)
	DownloadMedia(ctx context.Context, mediaID string) (*inbox.MediaLink, error)
}

// MediaHandler handles media upload HTTP requests
type MediaHandler struct {
	api MediaAPI
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(api MediaAPI) *MediaHandler {
	return &MediaHandler{api: api}
}

// RegisterRoutes registers media routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/media/upload", h.Upload())
	r.Get("/media/{mediaId}/link", h.Link())
}

// UploadResponse represents the response from upload endpoint
type UploadResponse struct {
	MediaID string `json:"mediaId"`
	Size    int    `json:"size"`
}

// Upload handles POST /media/upload. The returned media id is sent with
// POST /conversations/{id}/messages {mediaId, caption}.
func (h *MediaHandler) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "missing file in request")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if !isAllowedMediaType(contentType) {
			response.BadRequest(w, fmt.Sprintf("unsupported media type: %s", contentType))
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			response.BadRequest(w, "failed to read file")
			return
		}

		id, err := h.api.UploadImage(r.Context(), contentType, data)
		if err != nil {
			handleUpstreamError(w, err)
			return
		}

		response.Created(w, UploadResponse{MediaID: id, Size: len(data)})
	}
}

// Link handles GET /media/{mediaId}/link
func (h *MediaHandler) Link() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, err := h.api.DownloadMedia(r.Context(), chi.URLParam(r, "mediaId"))
		if err != nil {
			handleUpstreamError(w, err)
			return
		}
		response.OK(w, link)
	}
}

// isAllowedMediaType checks if the content type is an image the inbox can send
func isAllowedMediaType(contentType string) bool {
	allowed := []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
	}

	for _, a := range allowed {
		if strings.EqualFold(contentType, a) {
			return true
		}
	}
	return false
}
