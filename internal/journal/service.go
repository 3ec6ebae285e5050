package journal

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Service exposes the journal to the ops API.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new journal service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// ListTransactions returns at most limit entries, newest first. Zero means the default.
func (s *Service) ListTransactions(ctx context.Context, limit int) (*ListTransactionsResponse, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, errors.InvalidInput("limit must be between 1 and 500")
	}

	entries, err := s.store.List(ctx, limit)
	if err != nil {
		s.logger.Error("failed to list journal entries", zap.Error(err))
		return nil, errors.DBError(err)
	}

	return &ListTransactionsResponse{
		Transactions: ToTransactionResponseList(entries),
		Total:        int64(len(entries)),
	}, nil
}

// GetTransaction looks up the latest entry for txHash.
func (s *Service) GetTransaction(ctx context.Context, txHash string) (*Entry, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, errors.InvalidInput("tx hash must be 0x followed by 64 hex characters")
	}

	entry, err := s.store.Get(ctx, strings.ToLower(txHash))
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.NotFound("Transaction")
		}
		s.logger.Error("failed to get journal entry", zap.String("tx_hash", txHash), zap.Error(err))
		return nil, errors.DBError(err)
	}
	return entry, nil
}
