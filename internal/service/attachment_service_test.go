package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*storage.UploadResult, error) {
	args := m.Called(ctx, key, body, contentType, size)
	if r, ok := args.Get(0).(*storage.UploadResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestAttachmentService_KindFor(t *testing.T) {
	s := NewAttachmentService(nil, 0)
	cases := map[string]domain.MessageKind{
		"photo.JPG":  domain.KindImage,
		"memo.m4a":   domain.KindVoice,
		"report.pdf": domain.KindDocument,
	}
	for name, want := range cases {
		kind, ok := s.KindFor(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, kind, name)
	}
	_, ok := s.KindFor("setup.exe")
	assert.False(t, ok)
}

func TestAttachmentService_Upload(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return len(key) > len("chat/9/") && key[:len("chat/9/")] == "chat/9/"
	}), mock.Anything, "application/pdf", mock.Anything).
		Return(&storage.UploadResult{Key: "chat/9/abc.pdf", URL: "https://s3/chat/9/abc.pdf", CDNURL: "https://cdn/chat/9/abc.pdf"}, nil).Once()

	s := NewAttachmentService(up, 1)
	att, kind, err := s.Upload(context.Background(), 9, fileHeader(t, "report.pdf", []byte("%PDF-1.4 test document")))
	require.NoError(t, err)
	assert.Equal(t, domain.KindDocument, kind)
	assert.Equal(t, "https://cdn/chat/9/abc.pdf", att.URL)
	assert.Equal(t, "chat/9/abc.pdf", att.StorageKey)
	assert.Equal(t, "report.pdf", att.Filename)
	up.AssertExpectations(t)
}

func TestAttachmentService_UploadFailures(t *testing.T) {
	_, _, err := NewAttachmentService(nil, 1).Upload(context.Background(), 1, fileHeader(t, "a.png", []byte("x")))
	assert.ErrorIs(t, err, common.ErrTransient)

	up := &mockUploader{}
	s := NewAttachmentService(up, 1)

	_, _, err = s.Upload(context.Background(), 1, fileHeader(t, "tool.exe", []byte("MZ")))
	assert.ErrorIs(t, err, common.ErrValidation)

	big := bytes.Repeat([]byte("a"), 2*1024*1024)
	_, _, err = s.Upload(context.Background(), 1, fileHeader(t, "big.txt", big))
	assert.ErrorIs(t, err, common.ErrValidation)

	up.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("bucket unavailable")).Once()
	_, _, err = s.Upload(context.Background(), 1, fileHeader(t, "notes.txt", []byte("hello")))
	assert.ErrorIs(t, err, common.ErrTransient)
	up.AssertExpectations(t)
}
