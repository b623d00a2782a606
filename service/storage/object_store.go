package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig 对象存储连接配置
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectStore MinIO/S3 客户端封装
type ObjectStore struct {
	client *minio.Client
}

// NewObjectStore 创建对象存储客户端，Endpoint 为空时返回 nil
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Prefix 返回桶内前缀位置
func (s *ObjectStore) Prefix(bucket, prefix string) Location {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &objectPrefix{store: s, bucket: bucket, prefix: prefix}
}

// Open 打开对象
func (s *ObjectStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := SplitObjectRef(ref)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject 是惰性的，Stat 确认对象存在
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

type objectPrefix struct {
	store  *ObjectStore
	bucket string
	prefix string
}

func (p *objectPrefix) String() string {
	return s3Scheme + p.bucket + "/" + p.prefix
}

// List 列举前缀下的直接对象
func (p *objectPrefix) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for obj := range p.store.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{Prefix: p.prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		name := path.Base(obj.Key)
		if Skippable(name) {
			continue
		}
		out = append(out, Entry{
			Ref:     s3Scheme + p.bucket + "/" + obj.Key,
			Name:    name,
			ModTime: obj.LastModified,
			Size:    obj.Size,
		})
	}
	return out, nil
}
