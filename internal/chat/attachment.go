package chat

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/models"
)

// MaxAttachmentSize is the client-side upload cap.
const MaxAttachmentSize = 10 * 1024 * 1024

var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".doc":  {},
	".docx": {},
}

// Uploader is the REST subset needed for attachment upload.
type Uploader interface {
	UploadAttachment(ctx context.Context, conversationID, fileName string, content io.Reader) (models.ChatAttachment, error)
}

// ValidateAttachment rejects disallowed file types and oversized files
// before any network call. The server remains the authority; this only
// spares the user a doomed upload.
func ValidateAttachment(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := allowedExtensions[ext]; !ok {
		return &apierr.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file type %q not allowed", ext),
		}
	}
	if size > MaxAttachmentSize {
		return &apierr.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file exceeds %d MB limit", MaxAttachmentSize/(1024*1024)),
		}
	}
	return nil
}

// UploadAttachment validates the file and uploads it to a conversation.
func UploadAttachment(ctx context.Context, api Uploader, conversationID, fileName string, content io.Reader, size int64) (models.ChatAttachment, error) {
	if err := ValidateAttachment(fileName, size); err != nil {
		return models.ChatAttachment{}, err
	}
	return api.UploadAttachment(ctx, conversationID, fileName, content)
}
