package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("width", "100"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/remove-background", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestFromRequestAccepts(t *testing.T) {
	v := NewValidator([]string{"png", ".JPG", "jpeg"}, 1024)

	f, err := v.FromRequest(multipartRequest(t, Field, "dir/Photo.JPG", []byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "Photo.JPG", f.Name)
	assert.Equal(t, "jpg", f.Ext)
	assert.Equal(t, "Photo", f.Stem())
	assert.Equal(t, []byte("abc"), f.Data)
}

func TestFromRequestRejects(t *testing.T) {
	v := NewValidator([]string{"png"}, 8)

	tests := []struct {
		name string
		req  *http.Request
		want error
	}{
		{"missing field", multipartRequest(t, "", "", nil), ErrMissingFile},
		{"wrong field", multipartRequest(t, "file", "a.png", []byte("x")), ErrMissingFile},
		{"extension", multipartRequest(t, Field, "a.gif", []byte("x")), ErrExtension},
		{"no extension", multipartRequest(t, Field, "README", []byte("x")), ErrExtension},
		{"too large", multipartRequest(t, Field, "a.png", bytes.Repeat([]byte("x"), 9)), ErrTooLarge},
		{"empty", multipartRequest(t, Field, "a.png", nil), ErrMissingFile},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("x")), ErrMissingFile},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.FromRequest(tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestReadRejectsEmptyFilename(t *testing.T) {
	v := NewValidator([]string{"png"}, 0)
	_, err := v.Read(&multipart.FileHeader{Filename: "  "}, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrEmptyFilename)
}

func TestStemFallback(t *testing.T) {
	assert.Equal(t, "image", File{Name: ".png"}.Stem())
	assert.Equal(t, "cat", File{Name: `C:\Users\me\cat.png`}.Stem())
}
