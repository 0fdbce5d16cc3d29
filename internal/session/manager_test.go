package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	sessions map[string]*model.Session
	messages map[string]*model.CanonicalMessage // keyed connectionID|msgID
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*model.Session),
		messages: make(map[string]*model.CanonicalMessage),
	}
}

func (s *memStore) OpenSession(contactID, connectionID string) (*model.Session, error) {
	for _, sess := range s.sessions {
		if sess.ContactID == contactID && sess.ConnectionID == connectionID && sess.Status != model.SessionClosed {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Session(id string) (*model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) CreateSession(sess *model.Session) error {
	for _, existing := range s.sessions {
		if existing.ContactID == sess.ContactID && existing.ConnectionID == sess.ConnectionID && existing.Status != model.SessionClosed {
			return errors.New("open session exists")
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) UpdateSession(sess *model.Session) error {
	if _, ok := s.sessions[sess.ID]; !ok {
		return errors.New("not found")
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) ExpiredBlocks(now time.Time) ([]*model.Session, error) {
	var out []*model.Session
	for _, sess := range s.sessions {
		if !sess.AutoResponseEnabled && sess.AutoResponseBlockedUntil != nil && !sess.AutoResponseBlockedUntil.After(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) InsertMessage(m *model.CanonicalMessage, sessionID string) (bool, error) {
	key := m.ConnectionID + "|" + m.ID
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	cp := *m
	s.messages[key] = &cp
	return true, nil
}

func (s *memStore) Message(connectionID, msgID string) (*model.CanonicalMessage, error) {
	m, ok := s.messages[connectionID+"|"+msgID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateMessageStatus(connectionID, msgID string, status model.MessageStatus) error {
	m, ok := s.messages[connectionID+"|"+msgID]
	if !ok {
		return errors.New("not found")
	}
	m.Status = status
	return nil
}

func testManager(t *testing.T) (*Manager, *memStore, *time.Time) {
	t.Helper()
	store := newMemStore()
	m := NewManager(store, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }
	return m, store, clock
}

func inbound(msgID string, ts time.Time) *model.CanonicalMessage {
	return &model.CanonicalMessage{
		ID: msgID, ConnectionID: "c1", From: "alice", To: "c1",
		Type: model.TypeText, Content: "hi", Timestamp: ts.UnixMilli(),
		Direction: model.DirectionInbound, Status: model.StatusSent,
	}
}

func TestGetOrCreateCreatesQueued(t *testing.T) {
	m, _, _ := testManager(t)

	s, err := m.GetOrCreate("alice", "c1", "org1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != model.SessionQueued {
		t.Errorf("status = %q, want queued", s.Status)
	}
	if !s.AutoResponseEnabled {
		t.Error("new session should have auto-response enabled")
	}

	again, err := m.GetOrCreate("alice", "c1", "org1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != s.ID {
		t.Errorf("second GetOrCreate created a new session: %s != %s", again.ID, s.ID)
	}
}

func TestApplyMessageActivatesAndIsIdempotent(t *testing.T) {
	m, store, clock := testManager(t)

	msg := inbound("m1", *clock)
	s1, err := m.ApplyMessage("alice", "org1", msg)
	if err != nil {
		t.Fatal(err)
	}
	if s1.Status != model.SessionActive {
		t.Errorf("status after first message = %q, want active", s1.Status)
	}

	// Redelivery of the same message id must not change anything.
	s2, err := m.ApplyMessage("alice", "org1", msg)
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID != s1.ID {
		t.Errorf("redelivery created a session: %s != %s", s2.ID, s1.ID)
	}
	if len(store.messages) != 1 {
		t.Errorf("message count = %d, want 1", len(store.messages))
	}

	persisted, _ := store.Session(s1.ID)
	if !persisted.LastMessageAt.Equal(time.UnixMilli(msg.Timestamp)) {
		t.Errorf("lastMessageAt = %v, want message timestamp", persisted.LastMessageAt)
	}
}

func TestApplyStatusChangeMonotonic(t *testing.T) {
	m, store, clock := testManager(t)

	if _, err := m.ApplyMessage("alice", "org1", inbound("m1", *clock)); err != nil {
		t.Fatal(err)
	}

	if err := m.ApplyStatusChange("c1", "m1", model.StatusRead); err != nil {
		t.Fatal(err)
	}
	// A late "delivered" webhook must not regress "read".
	if err := m.ApplyStatusChange("c1", "m1", model.StatusDelivered); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Message("c1", "m1")
	if got.Status != model.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}
}

func TestBlockThenExpiry(t *testing.T) {
	m, _, clock := testManager(t)

	s, err := m.GetOrCreate("alice", "c1", "org1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.BlockAutoResponse(s.ID, 5, "manual_response"); err != nil {
		t.Fatal(err)
	}

	blocked, err := m.IsAutoResponseBlocked(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Error("IsAutoResponseBlocked = false immediately after block, want true")
	}

	// 6 simulated minutes later the block has lapsed.
	*clock = clock.Add(6 * time.Minute)
	blocked, err = m.IsAutoResponseBlocked(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("IsAutoResponseBlocked = true after expiry, want false")
	}

	// Lazy expiry must have persisted the unblocked state.
	persisted, err := m.store.Session(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !persisted.AutoResponseEnabled || persisted.AutoResponseBlockedUntil != nil {
		t.Errorf("lazy expiry not persisted: %+v", persisted)
	}
}

func TestUnblockExplicit(t *testing.T) {
	m, _, _ := testManager(t)

	s, _ := m.GetOrCreate("alice", "c1", "org1")
	if err := m.BlockAutoResponse(s.ID, 60, "handoff"); err != nil {
		t.Fatal(err)
	}
	if err := m.UnblockAutoResponse(s.ID); err != nil {
		t.Fatal(err)
	}
	blocked, err := m.IsAutoResponseBlocked(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("still blocked after explicit unblock")
	}
}

func TestTagsIdempotent(t *testing.T) {
	m, store, _ := testManager(t)

	s, _ := m.GetOrCreate("alice", "c1", "org1")
	if err := m.AddTags(s.ID, "vip", "billing"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddTags(s.ID, "vip"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Session(s.ID)
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want 2 distinct", got.Tags)
	}

	if err := m.RemoveTags(s.ID, "vip", "absent"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Session(s.ID)
	if len(got.Tags) != 1 || got.Tags[0] != "billing" {
		t.Errorf("tags = %v, want [billing]", got.Tags)
	}
}

func TestSweepExpiredBlocks(t *testing.T) {
	m, store, clock := testManager(t)

	for i := 0; i < 3; i++ {
		s, err := m.GetOrCreate(fmt.Sprintf("contact%d", i), "c1", "org1")
		if err != nil {
			t.Fatal(err)
		}
		minutes := 5
		if i == 2 {
			minutes = 120 // stays blocked
		}
		if err := m.BlockAutoResponse(s.ID, minutes, "manual_response"); err != nil {
			t.Fatal(err)
		}
	}

	*clock = clock.Add(10 * time.Minute)
	swept, err := m.SweepExpiredBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}

	stillBlocked := 0
	for _, s := range store.sessions {
		if !s.AutoResponseEnabled {
			stillBlocked++
		}
	}
	if stillBlocked != 1 {
		t.Errorf("still blocked = %d, want 1", stillBlocked)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	m, _, _ := testManager(t)

	s, _ := m.GetOrCreate("alice", "c1", "org1")
	if err := m.Close(s.ID); err != nil {
		t.Fatal(err)
	}

	// Next activity opens a fresh session.
	s2, err := m.GetOrCreate("alice", "c1", "org1")
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID == s.ID {
		t.Error("GetOrCreate returned a closed session")
	}
}
