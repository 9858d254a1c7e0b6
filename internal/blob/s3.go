package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Root is a key prefix under which all Kino media lives, so the
	// bucket can be shared with other tenants.
	Root string
}

// S3Store implements Store against any S3-compatible backend (MinIO,
// R2, AWS). Folder handles are key prefixes ending in "/"; file handles
// are full object keys.
type S3Store struct {
	cl     *minio.Client
	bucket string
	root   string
	scheme string
	host   string
}

// NewS3 connects to the configured endpoint. The bucket must already
// exist; Kino never creates buckets.
func NewS3(cfg S3Config) (*S3Store, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect %s: %w", cfg.Endpoint, err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	root := strings.Trim(cfg.Root, "/")
	if root != "" {
		root += "/"
	}
	return &S3Store{
		cl:     cl,
		bucket: cfg.Bucket,
		root:   root,
		scheme: scheme,
		host:   cfg.Endpoint,
	}, nil
}

func (s *S3Store) CreateFolder(ctx context.Context, name string) (string, error) {
	key := s.root + name + "/"
	// S3 has no real directories; a zero-byte marker object keeps the
	// prefix listable and lets Metadata distinguish folder handles.
	_, err := s.cl.PutObject(ctx, s.bucket, key, strings.NewReader(""), 0,
		minio.PutObjectOptions{ContentType: "application/x-directory"})
	if err != nil {
		return "", fmt.Errorf("blob: create folder %s: %w", name, err)
	}
	return key, nil
}

func (s *S3Store) CreateFile(ctx context.Context, name, mimeType string, content io.Reader, parent string) (Created, error) {
	key := parent + name
	if parent == "" {
		key = s.root + name
	}
	// Size -1 streams the body with multipart upload; the whole file is
	// never buffered in memory.
	_, err := s.cl.PutObject(ctx, s.bucket, key, content, -1,
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return Created{}, fmt.Errorf("blob: create file %s: %w", key, err)
	}
	return Created{
		Handle:     key,
		PublicLink: fmt.Sprintf("%s://%s/%s/%s", s.scheme, s.host, s.bucket, key),
	}, nil
}

// SetPublicReadable verifies the object exists. Per-object ACLs are not
// part of the S3-compatible subset every backend supports; public reads
// are granted by bucket policy on the media prefix, configured out of
// band.
func (s *S3Store) SetPublicReadable(ctx context.Context, handle string) error {
	_, err := s.Metadata(ctx, handle)
	return err
}

func (s *S3Store) Metadata(ctx context.Context, handle string) (Metadata, error) {
	info, err := s.cl.StatObject(ctx, s.bucket, handle, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("blob: stat %s: %w", handle, err)
	}
	return Metadata{Size: info.Size, MIMEType: info.ContentType}, nil
}

func (s *S3Store) RangeStream(ctx context.Context, handle string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	// SetRange takes inclusive bounds, matching the Range header.
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("blob: range %d-%d: %w", start, end, err)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, handle, opts)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: get %s: %w", handle, err)
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, handle string) error {
	if !strings.HasSuffix(handle, "/") {
		if err := s.cl.RemoveObject(ctx, s.bucket, handle, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("blob: delete %s: %w", handle, err)
		}
		return nil
	}

	// Folder handle: remove every object under the prefix, marker included.
	for obj := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    handle,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("blob: list %s: %w", handle, obj.Err)
		}
		if err := s.cl.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("blob: delete %s: %w", obj.Key, err)
		}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
