package nonce

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultTTL is how long a reservation blocks other signers
	DefaultTTL = 5 * time.Minute
)

// Key identifies one permit nonce of one owner on one token.
type Key struct {
	Token common.Address
	Owner common.Address
	Nonce *big.Int
}

// String formats the key as permit:{token}:{owner}:{nonce}, lowercase.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix,
		strings.ToLower(k.Token.Hex()), strings.ToLower(k.Owner.Hex()), k.Nonce.String())
}

// Store defines the interface for permit nonce reservations.
// A reservation only coordinates processes sharing the store; the token's
// on-chain nonce stays authoritative.
type Store interface {
	// Reserve claims key for the store's TTL.
	// Returns ErrNonceAlreadyUsed if key is already reserved or used.
	Reserve(ctx context.Context, key Key) error

	// MarkUsed records that the permit carrying key was consumed on-chain.
	MarkUsed(ctx context.Context, key Key) error

	// Release drops a reservation whose permit was never consumed.
	Release(ctx context.Context, key Key) error
}

// Error definitions
var (
	ErrNonceAlreadyUsed = errors.New("nonce already used or reserved")
)

// MemoryStore reserves nonces within one process. Used in tests and when
// Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	state     string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Reserve(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if e, ok := m.entries[k]; ok && m.now().Before(e.expiresAt) {
		return ErrNonceAlreadyUsed
	}
	m.entries[k] = memoryEntry{state: stateReserved, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) MarkUsed(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = memoryEntry{state: stateUsed, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}
