package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/damoang/angple-chat/pkg/storage"
)

// Uploader stores objects in S3-compatible storage
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*storage.UploadResult, error)
}

// AttachmentService uploads chat attachments out of band and returns the
// reference tuple a send-message command carries.
type AttachmentService struct {
	uploader  Uploader
	maxSize   int64
	allowExts map[domain.MessageKind][]string
}

// NewAttachmentService creates a new AttachmentService. uploader may be nil when storage is disabled.
func NewAttachmentService(uploader Uploader, maxSizeMB int) *AttachmentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	return &AttachmentService{
		uploader: uploader,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		allowExts: map[domain.MessageKind][]string{
			domain.KindImage:    {".jpg", ".jpeg", ".png", ".gif", ".webp"},
			domain.KindVoice:    {".mp3", ".m4a", ".ogg", ".oga", ".wav", ".webm", ".aac"},
			domain.KindDocument: {".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".csv", ".zip", ".hwp"},
		},
	}
}

// KindFor infers the message kind from a file extension
func (s *AttachmentService) KindFor(filename string) (domain.MessageKind, bool) {
	ext := strings.ToLower(path.Ext(filename))
	for kind, exts := range s.allowExts {
		for _, e := range exts {
			if e == ext {
				return kind, true
			}
		}
	}
	return "", false
}

// Upload stores the file under the room prefix
func (s *AttachmentService) Upload(ctx context.Context, roomID uint64, file *multipart.FileHeader) (*domain.Attachment, domain.MessageKind, error) {
	if s.uploader == nil {
		return nil, "", common.Transient(errors.New("object storage is not configured"))
	}
	if file.Size > s.maxSize {
		return nil, "", common.Validation(fmt.Sprintf("file too large (max %dMB)", s.maxSize/(1024*1024)))
	}
	kind, ok := s.KindFor(file.Filename)
	if !ok {
		return nil, "", common.Validation("file type not allowed: " + path.Ext(file.Filename))
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", common.Validation("cannot read upload")
	}
	defer src.Close()

	// Detect content type from first 512 bytes
	buf := make([]byte, 512)
	n, readErr := src.Read(buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return nil, "", common.Validation("failed to read file header")
	}
	contentType := http.DetectContentType(buf[:n])
	if isDangerousContentType(contentType) {
		return nil, "", common.Validation("potentially dangerous file type detected")
	}
	if declared := file.Header.Get("Content-Type"); declared != "" && contentType == "application/octet-stream" {
		contentType = declared
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, "", common.Transient(fmt.Errorf("failed to reset file reader: %w", err))
	}

	ext := strings.ToLower(path.Ext(file.Filename))
	key := storage.GenerateKey(fmt.Sprintf("chat/%d", roomID), sanitizeFilename(file.Filename, ext))
	result, err := s.uploader.Upload(ctx, key, src, contentType, file.Size)
	if err != nil {
		return nil, "", common.Transient(err)
	}

	pkglogger.GetLogger().Info().
		Str("key", result.Key).
		Int64("size", file.Size).
		Str("content_type", contentType).
		Msg("attachment uploaded")

	url := result.URL
	if result.CDNURL != "" {
		url = result.CDNURL
	}
	return &domain.Attachment{
		URL:        url,
		StorageKey: result.Key,
		Filename:   file.Filename,
		Size:       file.Size,
		MimeType:   contentType,
	}, kind, nil
}

func isDangerousContentType(ct string) bool {
	dangerous := []string{
		"application/x-executable",
		"application/x-sharedlib",
		"application/x-mach-binary",
		"application/x-dosexec",
	}
	for _, d := range dangerous {
		if strings.HasPrefix(ct, d) {
			return true
		}
	}
	return false
}

func sanitizeFilename(original, ext string) string {
	base := strings.TrimSuffix(path.Base(original), path.Ext(original))
	// Keep only alphanumeric, Korean, dash, underscore
	var result strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || (r >= 0xAC00 && r <= 0xD7A3) { // Korean
			result.WriteRune(r)
		}
	}
	s := result.String()
	if s == "" {
		s = "file"
	}
	return s + ext
}
