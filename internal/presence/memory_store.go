package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory presence store for single-instance deployments
// and tests. It implements the same queue substrate as RedisStore.
type MemoryStore struct {
	mu sync.RWMutex

	sessions   map[string]ClientSession
	roomTeams  map[string]string
	roomMember map[string]map[string]struct{}
	roomActive map[string]time.Time
	producers  map[string]map[string]struct{}

	pending   [][]byte
	processed map[string]time.Time // id → expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]ClientSession),
		roomTeams:  make(map[string]string),
		roomMember: make(map[string]map[string]struct{}),
		roomActive: make(map[string]time.Time),
		producers:  make(map[string]map[string]struct{}),
		processed:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) SetClientSession(_ context.Context, clientID string, sess *ClientSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[clientID] = *sess
	return nil
}

func (s *MemoryStore) ClientSession(_ context.Context, clientID string) (*ClientSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[clientID]
	if !ok {
		return nil, nil
	}
	out := sess
	return &out, nil
}

func (s *MemoryStore) DeleteClientSession(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientID)
	return nil
}

func (s *MemoryStore) AddRoomMember(_ context.Context, roomID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomMember[roomID] == nil {
		s.roomMember[roomID] = make(map[string]struct{})
	}
	s.roomMember[roomID][clientID] = struct{}{}
	s.roomActive[roomID] = time.Now()
	return nil
}

func (s *MemoryStore) RemoveRoomMember(_ context.Context, roomID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roomMember[roomID], clientID)
	s.roomActive[roomID] = time.Now()
	return nil
}

func (s *MemoryStore) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.roomMember[roomID]))
	for id := range s.roomMember[roomID] {
		members = append(members, id)
	}
	return members, nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, roomID, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomTeams[roomID] = teamID
	s.roomActive[roomID] = time.Now()
	return nil
}

func (s *MemoryStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roomTeams[roomID]
	return ok, nil
}

func (s *MemoryStore) RoomTeam(_ context.Context, roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomTeams[roomID], nil
}

func (s *MemoryStore) TouchRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomActive[roomID] = time.Now()
	return nil
}

// TouchRoomAt backdates a room's activity timestamp. Test hook for eviction.
func (s *MemoryStore) TouchRoomAt(roomID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomActive[roomID] = t
}

func (s *MemoryStore) RoomLastActive(_ context.Context, roomID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomActive[roomID], nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roomTeams, roomID)
	delete(s.roomMember, roomID)
	delete(s.roomActive, roomID)
	delete(s.producers, roomID)
	return nil
}

func (s *MemoryStore) AddRoomProducer(_ context.Context, roomID, producerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producers[roomID] == nil {
		s.producers[roomID] = make(map[string]struct{})
	}
	s.producers[roomID][producerID] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveRoomProducer(_ context.Context, roomID, producerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.producers[roomID], producerID)
	return nil
}

func (s *MemoryStore) RoomProducers(_ context.Context, roomID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.producers[roomID]))
	for id := range s.producers[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) PushPending(_ context.Context, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.pending = append(s.pending, buf)
	return int64(len(s.pending)), nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.pending) {
		n = len(s.pending)
	}
	claimed := s.pending[:n]
	s.pending = append([][]byte(nil), s.pending[n:]...)
	return claimed, nil
}

func (s *MemoryStore) PendingLen(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.pending)), nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, ok := s.processed[eventID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
