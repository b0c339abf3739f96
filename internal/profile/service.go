package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/domain"
)

// ErrNoPanelUser is returned when an action targets a client the panel does not know.
var ErrNoPanelUser = errors.New("client has no panel account")

// UserSource is the panel side of a lookup.
type UserSource interface {
	FetchUser(ctx context.Context, clientID domain.ClientID) Result
	Action(ctx context.Context, userUUID string, action Action) error
}

// BalanceSource is the billing side of a lookup.
type BalanceSource interface {
	FetchBalance(ctx context.Context, clientID domain.ClientID) (Balance, bool)
	FetchTransactions(ctx context.Context, internalID int64) ([]Transaction, error)
}

// Service resolves client snapshots through a shared cache.
type Service struct {
	users    UserSource
	balances BalanceSource
	cache    Cache
	keyspace string
	ttl      time.Duration
	logger   *zap.Logger
}

// ServiceDeps wires the profile service.
type ServiceDeps struct {
	Users    UserSource
	Balances BalanceSource
	Cache    Cache
	Keyspace string
	TTL      time.Duration
	Logger   *zap.Logger
}

// NewService constructs the service.
func NewService(deps ServiceDeps) *Service {
	keyspace := deps.Keyspace
	if keyspace == "" {
		keyspace = "support:profile"
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    deps.Users,
		balances: deps.Balances,
		cache:    cache,
		keyspace: keyspace,
		ttl:      ttl,
		logger:   logger,
	}
}

func (s *Service) key(clientID domain.ClientID) string {
	return s.keyspace + ":" + clientID.String()
}

// Lookup returns the snapshot of a client, from cache when fresh.
func (s *Service) Lookup(ctx context.Context, clientID domain.ClientID) Snapshot {
	if raw, ok, err := s.cache.Get(ctx, s.key(clientID)); err != nil {
		s.logger.Warn("profile cache read failed", zap.Error(err))
	} else if ok {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap
		}
	}

	snap := s.fetch(ctx, clientID)
	if snap.Result.Kind == KindUnavailable {
		return snap
	}
	if raw, err := json.Marshal(snap); err == nil {
		if err := s.cache.Set(ctx, s.key(clientID), raw, s.ttl); err != nil {
			s.logger.Warn("profile cache write failed", zap.Error(err))
		}
	}
	return snap
}

func (s *Service) fetch(ctx context.Context, clientID domain.ClientID) Snapshot {
	snap := Snapshot{Result: Result{Kind: KindNotConfigured}}
	if s.users != nil {
		snap.Result = s.users.FetchUser(ctx, clientID)
	}
	if s.balances != nil {
		if balance, ok := s.balances.FetchBalance(ctx, clientID); ok {
			snap.Balance = &balance
		}
	}
	return snap
}

// Invalidate evicts a cached snapshot.
func (s *Service) Invalidate(ctx context.Context, clientID domain.ClientID) {
	if err := s.cache.Delete(ctx, s.key(clientID)); err != nil {
		s.logger.Warn("profile cache evict failed", zap.Error(err))
	}
}

// Transactions returns the billing history of a client.
func (s *Service) Transactions(ctx context.Context, clientID domain.ClientID) ([]Transaction, error) {
	if s.balances == nil {
		return nil, ErrNotConfigured
	}
	snap := s.Lookup(ctx, clientID)
	if snap.Balance == nil || snap.Balance.InternalID == 0 {
		return nil, nil
	}
	return s.balances.FetchTransactions(ctx, snap.Balance.InternalID)
}

// Apply runs a panel action for a client and evicts its snapshot.
func (s *Service) Apply(ctx context.Context, clientID domain.ClientID, action Action) error {
	if !action.Valid() {
		return ErrUnknownAction
	}
	if s.users == nil {
		return ErrNotConfigured
	}
	snap := s.Lookup(ctx, clientID)
	if snap.Result.Kind == KindNotConfigured {
		return ErrNotConfigured
	}
	if snap.Result.User == nil || snap.Result.User.UUID == "" {
		return ErrNoPanelUser
	}
	if err := s.users.Action(ctx, snap.Result.User.UUID, action); err != nil {
		return err
	}
	s.Invalidate(ctx, clientID)
	return nil
}

// Status reports which providers are configured.
func (s *Service) Status() map[string]bool {
	status := map[string]bool{"remnawave": false, "bedolaga": false}
	if c, ok := s.users.(interface{ Configured() bool }); ok {
		status["remnawave"] = c.Configured()
	}
	if c, ok := s.balances.(interface{ Configured() bool }); ok {
		status["bedolaga"] = c.Configured()
	}
	return status
}
