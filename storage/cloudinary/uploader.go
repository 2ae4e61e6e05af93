// Package cloudinary stores portal avatars on Cloudinary.
package cloudinary

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-errors"
)

// API is the part of the Cloudinary upload API used here.
type API interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Uploader is an alumni.Uploader.
type Uploader struct {
	api     API
	folder  string
	timeout time.Duration
}

var _ alumni.Uploader = (*Uploader)(nil)

// New connects with a CLOUDINARY_URL style url. An empty url falls back to
// the CLOUDINARY_URL environment variable.
func New(url, folder string) (*Uploader, error) {
	var (
		client *cld.Cloudinary
		err    error
	)
	if url == "" {
		client, err = cld.New()
	} else {
		client, err = cld.NewFromURL(url)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid cloudinary configuration")
	}
	return NewWithAPI(&client.Upload, folder), nil
}

// NewWithAPI wraps api.
func NewWithAPI(api API, folder string) *Uploader {
	if folder == "" {
		folder = "alumni"
	}
	return &Uploader{api: api, folder: folder, timeout: 20 * time.Second}
}

// Upload stores r under key, replacing any previous asset with that key.
func (u *Uploader) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	overwrite := true
	res, err := u.api.Upload(ctx, r, uploader.UploadParams{
		Folder:       path.Join(u.folder, path.Dir(key)),
		PublicID:     strings.TrimSuffix(path.Base(key), path.Ext(key)),
		ResourceType: "image",
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryOperation, "cloudinary upload failed").
			WithMetadata(map[string]any{"key": key})
	}
	if res.Error.Message != "" {
		return "", errors.New(res.Error.Message, errors.CategoryOperation).
			WithTextCode("CLOUDINARY_UPLOAD_REJECTED").
			WithMetadata(map[string]any{"key": key})
	}
	return res.SecureURL, nil
}
