package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"elt-service/service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorStore 记录每个管道已派发输入的 (路径, 修改时间)
type CursorStore interface {
	Get(ctx context.Context, importName, path string) (time.Time, bool, error)
	Put(ctx context.Context, importName, path string, modTime time.Time) error
}

// MemoryCursorStore 进程内游标
type MemoryCursorStore struct {
	mu   sync.RWMutex
	seen map[string]map[string]time.Time
}

// NewMemoryCursorStore 创建进程内游标
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{seen: make(map[string]map[string]time.Time)}
}

// Get 实现 CursorStore
func (m *MemoryCursorStore) Get(_ context.Context, importName, path string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.seen[importName][path]
	return t, ok, nil
}

// Put 实现 CursorStore
func (m *MemoryCursorStore) Put(_ context.Context, importName, path string, modTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[importName] == nil {
		m.seen[importName] = make(map[string]time.Time)
	}
	m.seen[importName][path] = modTime
	return nil
}

// GormCursorStore 持久化游标，重启后不会重复派发
type GormCursorStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCursorStore 创建持久化游标
func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db, now: time.Now}
}

// Get 实现 CursorStore
func (g *GormCursorStore) Get(ctx context.Context, importName, path string) (time.Time, bool, error) {
	var c models.SensorCursor
	err := g.db.WithContext(ctx).Where("import_name = ? AND path = ?", importName, path).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return c.ModTime, true, nil
}

// Put 实现 CursorStore
func (g *GormCursorStore) Put(ctx context.Context, importName, path string, modTime time.Time) error {
	now := g.now()
	c := models.SensorCursor{ImportName: importName, Path: path, ModTime: modTime, DispatchedAt: now, UpdatedAt: now}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "import_name"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"mod_time", "dispatched_at", "updated_at"}),
	}).Create(&c).Error
}
