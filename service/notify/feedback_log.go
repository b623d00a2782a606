package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"elt-service/service/pipeline"
	"elt-service/service/storage"
)

// FeedbackLog 在输入所在目录写按天滚动的运行记录，供放置文件的用户查看结果
// 只写入定义的被监视目录，每个目录一把锁
type FeedbackLog struct {
	keepDays int
	now      func() time.Time

	mu   sync.Mutex
	dirs map[string]*sync.Mutex
}

// NewFeedbackLog keepDays 之前的记录文件会被删除
func NewFeedbackLog(keepDays int) *FeedbackLog {
	if keepDays <= 0 {
		keepDays = 7
	}
	return &FeedbackLog{keepDays: keepDays, now: time.Now, dirs: make(map[string]*sync.Mutex)}
}

// Name 实现 Sink
func (f *FeedbackLog) Name() string { return "feedback_log" }

// Close 实现 Sink
func (f *FeedbackLog) Close() error { return nil }

// FileName 某天的记录文件名
func FileName(day time.Time) string {
	return day.Format("2006-01-02") + storage.FeedbackLogSuffix
}

// Send 追加一行；对象存储输入和被监视目录之外的输入直接跳过
func (f *FeedbackLog) Send(_ context.Context, o pipeline.RunOutcome) error {
	if o.InputRef == "" || storage.IsObjectRef(o.InputRef) || storage.IsObjectRef(o.WatchedLocation) {
		return nil
	}
	dir, ok := withinWatched(o.WatchedLocation, o.InputRef)
	if !ok {
		return nil
	}
	now := f.now()
	path := filepath.Join(dir, FileName(now))

	lock := f.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s | %-7s | %s | %s | rows=%d | %s\n",
		now.Format("2006-01-02 15:04:05"), o.Status, o.ImportName, filepath.Base(o.InputRef), o.RowsStaged, o.Message)
	if _, err := fh.WriteString(line); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return err
	}
	return f.rotate(dir, now)
}

// withinWatched 输入所在目录位于被监视位置之内时返回该目录
func withinWatched(watched, inputRef string) (string, bool) {
	if watched == "" {
		return "", false
	}
	root, err := filepath.Abs(watched)
	if err != nil {
		return "", false
	}
	dir, err := filepath.Abs(filepath.Dir(inputRef))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return dir, true
}

func (f *FeedbackLog) dirLock(dir string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.dirs[dir]
	if !ok {
		m = &sync.Mutex{}
		f.dirs[dir] = m
	}
	return m
}

// rotate 删除过期的记录文件
func (f *FeedbackLog) rotate(dir string, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := now.AddDate(0, 0, -f.keepDays).Format("2006-01-02")
	for _, e := range entries {
		name := e.Name()
		day, ok := strings.CutSuffix(name, storage.FeedbackLogSuffix)
		if !ok || e.IsDir() {
			continue
		}
		if day < cutoff {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
