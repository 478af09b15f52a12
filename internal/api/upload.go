package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

const multipartMemory = 8 << 20

var (
	allowedExtensions = map[string]bool{".jpeg": true, ".jpg": true, ".png": true, ".webp": true}
	allowedMIMETypes  = map[string]bool{"image/jpeg": true, "image/png": true, "image/webp": true}
)

type upload struct {
	name       string
	data       []byte
	options    domain.Options
	webhookURL string
}

// readUpload parses the multipart form of a processing request. The image
// must have a jpeg, png or webp extension and its sniffed content must
// agree.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, err
		}
		return upload{}, fmt.Errorf("%w: expected multipart form: %v", domain.ErrInvalidRequest, err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		return upload{}, fmt.Errorf("%w: please upload an image", domain.ErrInvalidRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return upload{}, fmt.Errorf("%w: uploaded image is empty", domain.ErrInvalidRequest)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] || !allowedMIMETypes[http.DetectContentType(data)] {
		return upload{}, fmt.Errorf("%w: file upload only supports jpeg, jpg, png and webp", domain.ErrInvalidRequest)
	}

	opts, err := parseOptions(r)
	if err != nil {
		return upload{}, err
	}

	webhookURL := strings.TrimSpace(r.FormValue("webhook_url"))
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return upload{}, fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", domain.ErrInvalidRequest)
		}
	}

	return upload{
		name:       header.Filename,
		data:       data,
		options:    opts,
		webhookURL: webhookURL,
	}, nil
}

func parseOptions(r *http.Request) (domain.Options, error) {
	format, err := domain.ParseFormat(r.FormValue("format"))
	if err != nil {
		return domain.Options{}, err
	}
	opts := domain.Options{Format: format}

	if opts.Width, err = formInt(r, "width"); err != nil {
		return domain.Options{}, err
	}
	if opts.Height, err = formInt(r, "height"); err != nil {
		return domain.Options{}, err
	}
	if opts.Brightness, err = formFloat(r, "brightness"); err != nil {
		return domain.Options{}, err
	}
	if opts.Contrast, err = formFloat(r, "contrast"); err != nil {
		return domain.Options{}, err
	}

	sizeField := "compress_size_kb"
	if strings.TrimSpace(r.FormValue(sizeField)) == "" {
		sizeField = "compressSize"
	}
	kb, err := formFloat(r, sizeField)
	if err != nil {
		return domain.Options{}, err
	}
	if kb != nil {
		bytes := int64(*kb * 1024)
		opts.TargetSizeBytes = &bytes
	}

	return opts.Normalized()
}

func formInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidRequest, key)
	}
	return v, nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidRequest, key)
	}
	return &v, nil
}
