package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalDir 本地目录
type LocalDir string

func (d LocalDir) String() string { return string(d) }

// List 列举目录下的文件
func (d LocalDir) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(string(d))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if it.IsDir() || Skippable(it.Name()) {
			continue
		}
		info, err := it.Info()
		if err != nil {
			// 列举与 stat 之间被删除
			continue
		}
		out = append(out, Entry{
			Ref:     filepath.Join(string(d), it.Name()),
			Name:    it.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out, nil
}

func openLocal(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
