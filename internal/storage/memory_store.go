package storage

import (
	"context"
	"strings"
	"sync"

	"ai-ats-go/internal/types"
)

// MemoryProfileStore 进程内档案存储
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]types.CandidateProfile
}

// NewMemoryProfileStore 创建内存档案存储
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]types.CandidateProfile)}
}

// PutProfile 保存档案
func (s *MemoryProfileStore) PutProfile(ctx context.Context, id string, profile types.CandidateProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = profile
	return nil
}

// GetProfile 读取档案
func (s *MemoryProfileStore) GetProfile(ctx context.Context, id string) (types.CandidateProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok, nil
}

// DeleteProfile 删除档案
func (s *MemoryProfileStore) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
	return nil
}

// MemoryArchive 进程内原始文件归档
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive 创建内存归档
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string][]byte)}
}

// ArchiveDocument 保存原始文件
func (a *MemoryArchive) ArchiveDocument(ctx context.Context, id, filename string, data []byte) (string, error) {
	name := DocumentObjectName(id, filename)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[name] = append([]byte(nil), data...)
	return name, nil
}

// DeleteDocuments 删除候选人的所有原始文件，返回删除数量
func (a *MemoryArchive) DeleteDocuments(ctx context.Context, id string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for name := range a.objects {
		if strings.HasPrefix(name, id+"_") {
			delete(a.objects, name)
			n++
		}
	}
	return n, nil
}

// Objects 当前保存的对象名
func (a *MemoryArchive) Objects() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.objects))
	for name := range a.objects {
		names = append(names, name)
	}
	return names
}
