// Package minio is a Directory on S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
)

// Directory maps each index file to an object under prefix in bucket. A
// PutObject replaces the object in one step, so readers never see a partial
// file.
type Directory struct {
	client *minio.Client
	bucket string
	prefix string
}

// Open connects to the endpoint in cfg and creates the bucket if missing.
func Open(ctx context.Context, cfg config.MinIOConfig) (*Directory, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

func New(client *minio.Client, bucket, prefix string) *Directory {
	return &Directory{client: client, bucket: bucket, prefix: prefix}
}

func (d *Directory) key(name string) string {
	return path.Join(d.prefix, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (d *Directory) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, d.key(name), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, store.NotFound(name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, store.NotFound(name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func (d *Directory) Write(ctx context.Context, name string, data []byte) error {
	_, err := d.client.PutObject(ctx, d.bucket, d.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (d *Directory) Delete(ctx context.Context, name string) error {
	err := d.client.RemoveObject(ctx, d.bucket, d.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (d *Directory) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := d.prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	var names []string
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing objects: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, listPrefix)
		if name != "" && !strings.Contains(name, "/") && !strings.HasSuffix(name, ".lock") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Lock creates the object name+".lock" with If-None-Match: *, so exactly one
// concurrent caller succeeds. Object storage has no sessions: a crashed
// holder leaves the lock object behind and it must be deleted by hand. The
// object records the holder to make that decision easy.
func (d *Directory) Lock(ctx context.Context, name string) (io.Closer, error) {
	host, _ := os.Hostname()
	owner := fmt.Sprintf("host=%s pid=%d since=%s\n", host, os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	opts := minio.PutObjectOptions{ContentType: "text/plain"}
	opts.SetMatchETagExcept("*")
	key := d.key(name + ".lock")
	_, err := d.client.PutObject(ctx, d.bucket, key, strings.NewReader(owner), int64(len(owner)), opts)
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return nil, store.LockHeld(name)
		}
		return nil, fmt.Errorf("taking lock %s: %w", name, err)
	}
	return &objectLock{d: d, key: key}, nil
}

type objectLock struct {
	d   *Directory
	key string
}

func (l *objectLock) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.d.client.RemoveObject(ctx, l.d.bucket, l.key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}

func (d *Directory) Close() error {
	return nil
}

var _ store.Directory = (*Directory)(nil)
