package share

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/store"
	"go.uber.org/zap"
)

type memStore struct {
	conns  map[string]*model.Connection
	tokens map[string]*model.ShareToken
}

func newMemStore() *memStore {
	return &memStore{
		conns: map[string]*model.Connection{
			"conn-1": {ID: "conn-1", BrokerType: model.BrokerMeow, OrganizationID: "org-1"},
		},
		tokens: map[string]*model.ShareToken{},
	}
}

func (m *memStore) Connection(id string) (*model.Connection, error) {
	c, ok := m.conns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) CreateShareToken(t *model.ShareToken) error {
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memStore) ShareToken(token string) (*model.ShareToken, error) {
	t, ok := m.tokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) MarkShareTokenUsed(token string, at time.Time) error {
	t, ok := m.tokens[token]
	if !ok {
		return store.ErrNotFound
	}
	t.UsedAt = &at
	return nil
}

func (m *memStore) DeleteExpiredShareTokens(now time.Time) (int64, error) {
	var n int64
	for token, t := range m.tokens {
		if t.Expired(now) {
			delete(m.tokens, token)
			n++
		}
	}
	return n, nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	st := newMemStore()
	return New(st, "https://inbox.example.com", zap.NewNop()), st
}

func TestGenerate(t *testing.T) {
	svc, st := newTestService(t)

	grant, err := svc.Generate("conn-1", 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if grant.Token == "" {
		t.Fatal("empty token")
	}
	if !strings.HasPrefix(grant.URL, "https://inbox.example.com/share/") {
		t.Fatalf("url = %s", grant.URL)
	}
	stored, ok := st.tokens[grant.Token]
	if !ok {
		t.Fatal("token not persisted")
	}
	if until := time.Until(stored.ExpiresAt); until < time.Hour || until > 2*time.Hour {
		t.Fatalf("expiry %v not within requested window", until)
	}
}

func TestGenerateDefaultsExpiry(t *testing.T) {
	svc, st := newTestService(t)

	grant, err := svc.Generate("conn-1", 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if until := time.Until(st.tokens[grant.Token].ExpiresAt); until < 23*time.Hour {
		t.Fatalf("default expiry %v, want ~%dh", until, defaultExpiryHours)
	}
}

func TestGenerateUnknownConnection(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Generate("nope", 1)
	if broker.ClassOf(err) != broker.ClassNotFound {
		t.Fatalf("class = %v, want %v", broker.ClassOf(err), broker.ClassNotFound)
	}
}

func TestValidate(t *testing.T) {
	svc, st := newTestService(t)

	grant, err := svc.Generate("conn-1", 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, err := svc.Validate(grant.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ConnectionID != "conn-1" {
		t.Fatalf("connection id = %s", got.ConnectionID)
	}
	if st.tokens[grant.Token].UsedAt == nil {
		t.Fatal("first use not stamped")
	}

	// A used token stays valid until expiry.
	if _, err := svc.Validate(grant.Token); err != nil {
		t.Fatalf("second Validate: %v", err)
	}
}

func TestValidateExpired(t *testing.T) {
	svc, st := newTestService(t)

	grant, err := svc.Generate("conn-1", 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	svc.now = func() time.Time { return st.tokens[grant.Token].ExpiresAt.Add(time.Minute) }

	_, err = svc.Validate(grant.Token)
	if broker.ClassOf(err) != broker.ClassNotFound {
		t.Fatalf("class = %v, want %v", broker.ClassOf(err), broker.ClassNotFound)
	}
}

func TestValidateUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Validate("nope")
	if broker.ClassOf(err) != broker.ClassNotFound {
		t.Fatalf("class = %v, want %v", broker.ClassOf(err), broker.ClassNotFound)
	}
}

func TestSweep(t *testing.T) {
	svc, st := newTestService(t)

	fresh, _ := svc.Generate("conn-1", 1)
	stale, _ := svc.Generate("conn-1", 1)
	st.tokens[stale.Token].ExpiresAt = time.Now().Add(-time.Minute)

	n, err := svc.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d tokens, want 1", n)
	}
	if _, ok := st.tokens[fresh.Token]; !ok {
		t.Fatal("fresh token was swept")
	}
}

func TestQRPNG(t *testing.T) {
	svc, _ := newTestService(t)

	png, err := svc.QRPNG("https://inbox.example.com/share/abc", 128)
	if err != nil {
		t.Fatalf("QRPNG: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}
