/*
 * @module service/storage/storage
 * @description 被监视位置的抽象：本地目录或对象存储前缀（s3://bucket/prefix）
 * @architecture 基础设施层
 * @rules 列举只返回直接子项（不递归），忽略目录与 Office 锁文件（~$ 前缀）
 * @dependencies github.com/minio/minio-go/v7
 * @refs service/sensor, service/routines
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Entry 位置中的一个输入
type Entry struct {
	Ref     string    `json:"ref"`
	Name    string    `json:"name"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Location 被监视位置
type Location interface {
	List(ctx context.Context) ([]Entry, error)
	String() string
}

// Opener 按输入引用打开内容
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// ErrObjectStoreDisabled 未配置对象存储
var ErrObjectStoreDisabled = errors.New("object store is not configured")

const s3Scheme = "s3://"

// IsObjectRef 是否为对象存储引用
func IsObjectRef(ref string) bool {
	return strings.HasPrefix(ref, s3Scheme)
}

// SplitObjectRef 拆分 s3://bucket/key
func SplitObjectRef(ref string) (bucket, key string, err error) {
	if !IsObjectRef(ref) {
		return "", "", fmt.Errorf("not an object reference: %q", ref)
	}
	rest := strings.TrimPrefix(ref, s3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", ref)
	}
	return bucket, key, nil
}

// FeedbackLogSuffix 运行反馈日志文件名后缀，写在被监视目录中
const FeedbackLogSuffix = "__run_history.log"

// Skippable 临时锁文件、隐藏文件和反馈日志不作为输入
func Skippable(name string) bool {
	return strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, FeedbackLogSuffix)
}

// Resolver 根据位置字符串选择实现
type Resolver struct {
	objects *ObjectStore
}

// NewResolver objects 可以为 nil
func NewResolver(objects *ObjectStore) *Resolver {
	return &Resolver{objects: objects}
}

// Location 解析被监视位置
func (r *Resolver) Location(location string) (Location, error) {
	if IsObjectRef(location) {
		if r.objects == nil {
			return nil, ErrObjectStoreDisabled
		}
		bucket, prefix, err := SplitObjectRef(location)
		if err != nil {
			return nil, err
		}
		return r.objects.Prefix(bucket, prefix), nil
	}
	if location == "" {
		return nil, errors.New("empty watched location")
	}
	return LocalDir(location), nil
}

// Open 实现 Opener
func (r *Resolver) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if IsObjectRef(ref) {
		if r.objects == nil {
			return nil, ErrObjectStoreDisabled
		}
		return r.objects.Open(ctx, ref)
	}
	return openLocal(ref)
}
