package storage

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/domain/chatroom"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces in this package. It is used by tests and by
// single-process deployments that do not need durability.
type Memory struct {
	mu         sync.RWMutex
	nextSerial int64

	apps      map[string]catalog.AppEntry // by internal id
	appIDs    map[string]string           // app_id -> internal id
	revisions map[string][]catalog.AppEntry

	roles       map[int64]chatroom.Role
	submitChats map[int64]chatroom.SubmitChat
	reviewChats map[int64]chatroom.ReviewChat
	pools       map[chatroom.Pool][]string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		apps:        make(map[string]catalog.AppEntry),
		appIDs:      make(map[string]string),
		revisions:   make(map[string][]catalog.AppEntry),
		roles:       make(map[int64]chatroom.Role),
		submitChats: make(map[int64]chatroom.SubmitChat),
		reviewChats: make(map[int64]chatroom.ReviewChat),
		pools:       make(map[chatroom.Pool][]string),
	}
}

// CatalogStore implementation -------------------------------------------------

func (m *Memory) CreateApp(_ context.Context, entry catalog.AppEntry) (catalog.AppEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	} else if _, exists := m.apps[entry.ID]; exists {
		return catalog.AppEntry{}, fmt.Errorf("entry %s already exists", entry.ID)
	}
	if entry.AppID != "" {
		if _, taken := m.appIDs[entry.AppID]; taken {
			return catalog.AppEntry{}, fmt.Errorf("app_id %s already cataloged", entry.AppID)
		}
	}

	m.writeLocked(entry)
	return m.apps[entry.ID], nil
}

func (m *Memory) UpdateApp(_ context.Context, entry catalog.AppEntry) (catalog.AppEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.apps[entry.ID]
	if !ok {
		return catalog.AppEntry{}, ErrNotFound
	}
	if original.AppID != "" && entry.AppID != original.AppID {
		return catalog.AppEntry{}, fmt.Errorf("app_id is immutable (entry %s)", entry.ID)
	}
	if original.Active && !entry.Active {
		return catalog.AppEntry{}, fmt.Errorf("entry %s is published, active cannot be cleared", entry.ID)
	}

	m.writeLocked(entry)
	return m.apps[entry.ID], nil
}

// writeLocked assigns the next global serial and records the revision.
func (m *Memory) writeLocked(entry catalog.AppEntry) {
	m.nextSerial++
	entry.Serial = m.nextSerial
	m.apps[entry.ID] = entry
	if entry.AppID != "" {
		m.appIDs[entry.AppID] = entry.ID
	}
	m.revisions[entry.ID] = append(m.revisions[entry.ID], entry)
}

func (m *Memory) GetApp(_ context.Context, id string) (catalog.AppEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.apps[id]
	if !ok {
		return catalog.AppEntry{}, ErrNotFound
	}
	return entry, nil
}

func (m *Memory) GetAppByAppID(_ context.Context, appID string) (catalog.AppEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.appIDs[appID]
	if !ok {
		return catalog.AppEntry{}, ErrNotFound
	}
	return m.apps[id], nil
}

func (m *Memory) ChangedSince(_ context.Context, serial int64) ([]catalog.AppEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var changed []catalog.AppEntry
	for _, entry := range m.apps {
		if entry.Active && entry.Serial > serial {
			changed = append(changed, entry)
		}
	}
	return changed, nil
}

func (m *Memory) SnapshotAt(_ context.Context, ids []string, serial int64) (map[string]catalog.AppEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]catalog.AppEntry, len(ids))
	for _, id := range ids {
		for i := len(m.revisions[id]) - 1; i >= 0; i-- {
			rev := m.revisions[id][i]
			if rev.Serial <= serial && rev.Active {
				result[id] = rev
				break
			}
		}
	}
	return result, nil
}

func (m *Memory) LastSerial(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextSerial, nil
}

// ChatStore implementation ----------------------------------------------------

func (m *Memory) SetChatRole(_ context.Context, chatID int64, role chatroom.Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown chat role %q", role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[chatID] = role
	return nil
}

func (m *Memory) GetChatRole(_ context.Context, chatID int64) (chatroom.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[chatID]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

func (m *Memory) CreateSubmitChat(_ context.Context, chat chatroom.SubmitChat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.submitChats[chat.ChatID]; exists {
		return fmt.Errorf("submit chat %d already exists", chat.ChatID)
	}
	m.submitChats[chat.ChatID] = chat
	m.roles[chat.ChatID] = chatroom.RoleSubmit
	return nil
}

func (m *Memory) GetSubmitChat(_ context.Context, chatID int64) (chatroom.SubmitChat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.submitChats[chatID]
	if !ok {
		return chatroom.SubmitChat{}, ErrNotFound
	}
	return chat, nil
}

func (m *Memory) DeleteSubmitChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.submitChats, chatID)
	return nil
}

func (m *Memory) SetChatEntry(_ context.Context, chatID int64, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chat, ok := m.submitChats[chatID]; ok {
		chat.EntryID = entryID
		m.submitChats[chatID] = chat
		return nil
	}
	if chat, ok := m.reviewChats[chatID]; ok {
		chat.EntryID = entryID
		m.reviewChats[chatID] = chat
		return nil
	}
	return ErrNotFound
}

func (m *Memory) UpgradeToReviewChat(_ context.Context, chat chatroom.ReviewChat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reviewChats[chat.ChatID] = chat
	m.roles[chat.ChatID] = chatroom.RoleReview
	delete(m.submitChats, chat.SubmitChatID)
	// The originating 1:1 chat goes back to being an ordinary shop chat.
	m.roles[chat.SubmitChatID] = chatroom.RoleShop
	return nil
}

func (m *Memory) GetReviewChat(_ context.Context, chatID int64) (chatroom.ReviewChat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.reviewChats[chatID]
	if !ok {
		return chatroom.ReviewChat{}, ErrNotFound
	}
	out := chat
	out.Testers = append([]string(nil), chat.Testers...)
	return out, nil
}

// PoolStore implementation ----------------------------------------------------

func (m *Memory) AddMember(_ context.Context, pool chatroom.Pool, contact string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, member := range m.pools[pool] {
		if member == contact {
			return nil
		}
	}
	m.pools[pool] = append(m.pools[pool], contact)
	return nil
}

func (m *Memory) ListMembers(_ context.Context, pool chatroom.Pool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.pools[pool]...), nil
}

func (m *Memory) RandomPublisher(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publishers := m.pools[chatroom.PoolPublishers]
	if len(publishers) == 0 {
		return "", ErrNotFound
	}
	return publishers[rand.Intn(len(publishers))], nil
}

func (m *Memory) RandomTesters(_ context.Context, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	testers := append([]string(nil), m.pools[chatroom.PoolTesters]...)
	rand.Shuffle(len(testers), func(i, j int) {
		testers[i], testers[j] = testers[j], testers[i]
	})
	if len(testers) > n {
		testers = testers[:n]
	}
	return testers, nil
}
