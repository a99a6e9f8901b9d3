package chat

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/models"
)

type fakeUploader struct {
	calls int
}

func (f *fakeUploader) UploadAttachment(ctx context.Context, conversationID, fileName string, content io.Reader) (models.ChatAttachment, error) {
	f.calls++
	return models.ChatAttachment{ID: "a1", FileName: fileName}, nil
}

func TestValidateAttachment(t *testing.T) {
	cases := []struct {
		name     string
		fileName string
		size     int64
		ok       bool
	}{
		{"executable rejected regardless of size", "report.exe", 10, false},
		{"oversized pdf rejected", "report.pdf", 11 * 1024 * 1024, false},
		{"small pdf accepted", "report.pdf", 2 * 1024 * 1024, true},
		{"uppercase extension accepted", "SCAN.PDF", 1024, true},
		{"docx accepted", "notes.docx", 1024, true},
		{"no extension rejected", "README", 10, false},
		{"exactly at limit accepted", "big.png", MaxAttachmentSize, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAttachment(tc.fileName, tc.size)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apierr.IsValidation(err))
			}
		})
	}
}

func TestUploadRejectedBeforeNetworkCall(t *testing.T) {
	up := &fakeUploader{}

	_, err := UploadAttachment(context.Background(), up, "c1", "report.exe", strings.NewReader("MZ"), 2)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, 0, up.calls, "no upload attempted for a rejected file")

	_, err = UploadAttachment(context.Background(), up, "c1", "report.pdf", strings.NewReader("%PDF"), 11*1024*1024)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, 0, up.calls)

	att, err := UploadAttachment(context.Background(), up, "c1", "report.pdf", strings.NewReader("%PDF"), 2*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, "a1", att.ID)
	assert.Equal(t, 1, up.calls)
}
