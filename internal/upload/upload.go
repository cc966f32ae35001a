package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// Field is the multipart field every image endpoint reads.
const Field = "image"

var (
	ErrMissingFile   = errors.New("no image file provided")
	ErrEmptyFilename = errors.New("no selected file")
	ErrExtension     = errors.New("invalid file type")
	ErrTooLarge      = errors.New("image exceeds upload size limit")
)

// File is an accepted upload held in memory.
type File struct {
	Name string
	Ext  string
	Data []byte
}

// Stem is the filename without directory or extension.
func (f File) Stem() string {
	base := filepath.Base(strings.ReplaceAll(f.Name, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return "image"
	}
	return stem
}

// Validator enforces the extension allow-list and size bound.
type Validator struct {
	allowed  map[string]struct{}
	maxBytes int64
}

func NewValidator(extensions []string, maxBytes int64) *Validator {
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return &Validator{allowed: allowed, maxBytes: maxBytes}
}

func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Allowed reports whether filename carries an accepted extension.
func (v *Validator) Allowed(filename string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", false
	}
	_, ok := v.allowed[ext]
	return ext, ok
}

// FromRequest reads the image field of a multipart request. The caller is
// expected to have wrapped r.Body with http.MaxBytesReader.
func (v *Validator) FromRequest(r *http.Request) (File, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return File{}, ErrTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return File{}, ErrMissingFile
		}
		return File{}, fmt.Errorf("%w: %v", ErrMissingFile, err)
	}

	f, header, err := r.FormFile(Field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return File{}, ErrMissingFile
		}
		return File{}, fmt.Errorf("%w: %v", ErrMissingFile, err)
	}
	defer f.Close()

	return v.Read(header, f)
}

// Read validates header and reads at most MaxBytes from body.
func (v *Validator) Read(header *multipart.FileHeader, body io.Reader) (File, error) {
	name := strings.TrimSpace(header.Filename)
	if name == "" {
		return File{}, ErrEmptyFilename
	}
	ext, ok := v.Allowed(name)
	if !ok {
		return File{}, fmt.Errorf("%w: %q", ErrExtension, filepath.Ext(name))
	}
	if v.maxBytes > 0 && header.Size > v.maxBytes {
		return File{}, ErrTooLarge
	}

	reader := body
	if v.maxBytes > 0 {
		reader = io.LimitReader(body, v.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return File{}, fmt.Errorf("read upload: %w", err)
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return File{}, ErrTooLarge
	}
	if len(data) == 0 {
		return File{}, fmt.Errorf("%w: empty file", ErrMissingFile)
	}

	return File{Name: name, Ext: ext, Data: data}, nil
}

// IsClientError reports whether err was caused by the uploaded input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingFile) ||
		errors.Is(err, ErrEmptyFilename) ||
		errors.Is(err, ErrExtension) ||
		errors.Is(err, ErrTooLarge)
}
