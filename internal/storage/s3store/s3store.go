// Package s3store implements storage.Store on an S3 compatible object store
// through minio-go.
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

type Store struct {
	client *minio.Client
}

var _ storage.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}
	return &Store{client: client}, nil
}

// Client exposes the underlying minio client for the notification listener.
func (s *Store) Client() *minio.Client {
	return s.client
}

// splitPath turns "bucket/key" into its parts.
func splitPath(p string) (bucket, key string, err error) {
	p = strings.TrimPrefix(p, "/")
	bucket, key, ok := strings.Cut(p, "/")
	if !ok || bucket == "" {
		return "", "", fmt.Errorf("path %q has no bucket/key form", p)
	}
	return bucket, key, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}

func (s *Store) stat(ctx context.Context, p string, checksum bool) (minio.ObjectInfo, error) {
	bucket, key, err := splitPath(p)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	opts := minio.StatObjectOptions{Checksum: checksum}
	info, err := s.client.StatObject(ctx, bucket, key, opts)
	if err != nil {
		if isNotFound(err) {
			return minio.ObjectInfo{}, storage.NotFound(p)
		}
		return minio.ObjectInfo{}, storage.Unavailable("stat", p, err)
	}
	return info, nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.stat(ctx, p, false)
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, err
}

func isMissing(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func (s *Store) Info(ctx context.Context, p string) (storage.Info, error) {
	oi, err := s.stat(ctx, p, false)
	if err != nil {
		if isMissing(err) {
			if dir, derr := s.IsDir(ctx, p); derr == nil && dir {
				return storage.Info{Path: p, IsDir: true}, nil
			}
		}
		return storage.Info{}, err
	}
	return storage.Info{
		Path:        p,
		Size:        oi.Size,
		ModTime:     oi.LastModified,
		ContentType: oi.ContentType,
		ETag:        oi.ETag,
	}, nil
}

// Checksum prefers the stored SHA256 checksum and streams the object otherwise.
func (s *Store) Checksum(ctx context.Context, p string) (string, error) {
	oi, err := s.stat(ctx, p, true)
	if err != nil {
		return "", err
	}
	if oi.ChecksumSHA256 != "" {
		if raw, err := base64.StdEncoding.DecodeString(oi.ChecksumSHA256); err == nil && len(raw) == sha256.Size {
			return hex.EncodeToString(raw), nil
		}
	}

	bucket, key, _ := splitPath(p)
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", storage.Unavailable("get", p, err)
	}
	defer obj.Close()

	h := sha256.New()
	if _, err := io.Copy(h, obj); err != nil {
		if isNotFound(err) {
			return "", storage.NotFound(p)
		}
		return "", storage.Unavailable("read", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsDir reports whether any object exists under p + "/".
func (s *Store) IsDir(ctx context.Context, p string) (bool, error) {
	bucket, key, err := splitPath(p)
	if err != nil {
		return false, err
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, MaxKeys: 1}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return false, nil
			}
			return false, storage.Unavailable("list", p, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	bucket, key, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.Unavailable("get", p, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.NotFound(p)
		}
		return nil, storage.Unavailable("read", p, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, p string, data []byte, contentType string) error {
	bucket, key, err := splitPath(p)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:    contentType,
		SendContentMd5: true,
	})
	if err != nil {
		return storage.Unavailable("put", p, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	bucket, key, err := splitPath(p)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return storage.Unavailable("delete", p, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, keyPrefix, err := splitPath(prefix)
	if err != nil {
		return nil, err
	}
	var paths []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: keyPrefix, Recursive: true}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, nil
			}
			return nil, storage.Unavailable("list", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		paths = append(paths, bucket+"/"+obj.Key)
	}
	sort.Strings(paths)
	return paths, nil
}
