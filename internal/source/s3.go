// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ManuGH/photocast/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"
)

// S3 lists objects below a key prefix in an S3-compatible bucket.
type S3 struct {
	id       string
	bucket   string
	prefix   string
	maxDepth int
	timeout  time.Duration
	match    matcher
	client   *minio.Client
	limiter  *rate.Limiter
}

// NewS3 creates a connector. The endpoint is host[:port] without scheme.
func NewS3(cfg config.SourceConfig) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Credentials.AccessKey, cfg.Credentials.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	prefix := strings.Trim(cfg.Root, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{
		id:       cfg.ID,
		bucket:   cfg.Bucket,
		prefix:   prefix,
		maxDepth: maxDepth(cfg),
		timeout:  cfg.Timeout,
		match:    newMatcher(cfg.IncludeExt),
		client:   client,
		limiter:  newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (s *S3) ID() string { return s.id }
func (s *S3) Kind() Kind { return KindS3 }

func (s *S3) List(ctx context.Context) ([]Entry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []Entry
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, unavailable(s.id, "list", obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, s.prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		if strings.Count(rel, "/") > s.maxDepth || !s.match.match(rel) {
			continue
		}
		if hidden(rel) {
			continue
		}
		out = append(out, entry(rel, obj.Size, obj.LastModified, obj.ETag))
	}
	return out, nil
}

// hidden reports whether any segment of rel starts with a dot.
func hidden(rel string) bool {
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

func (s *S3) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	clean := strings.TrimPrefix(path.Clean("/"+locator), "/")
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, locator)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	obj, err := s.client.GetObject(callCtx, s.bucket, s.prefix+clean, minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, unavailable(s.id, "get", err)
	}
	// GetObject is lazy; Stat surfaces missing keys and auth failures now.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		cancel()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("source %s: open %s: %w", s.id, clean, os.ErrNotExist)
		}
		return nil, unavailable(s.id, "stat", err)
	}
	return cancelOnClose{ReadCloser: obj, cancel: cancel}, nil
}
