package journal

import "time"

// ============================================================================
// Response DTOs
// ============================================================================

// TransactionResponse represents a journal entry in API responses
type TransactionResponse struct {
	ID        string    `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Action    string    `json:"action" example:"complete-order"`
	Contract  string    `json:"contract" example:"0x42f034CD03E06087870cF0D662EA6dB389E3364f"`
	Method    string    `json:"method" example:"completeOrder"`
	From      string    `json:"from"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status" example:"success"`
	Block     uint64    `json:"block"`
	GasUsed   uint64    `json:"gas_used"`
	Reason    string    `json:"reason,omitempty" example:"order already completed"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTransactionsResponse represents the transaction list response
type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
}

// ============================================================================
// Converters
// ============================================================================

// ToTransactionResponse converts Entry to TransactionResponse
func ToTransactionResponse(e *Entry) *TransactionResponse {
	if e == nil {
		return nil
	}
	return &TransactionResponse{
		ID:        e.ID,
		Action:    e.Action,
		Contract:  e.Contract,
		Method:    e.Method,
		From:      e.From,
		TxHash:    e.TxHash,
		Status:    e.Status,
		Block:     e.Block,
		GasUsed:   e.GasUsed,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}

// ToTransactionResponseList converts []Entry to []TransactionResponse
func ToTransactionResponseList(entries []Entry) []TransactionResponse {
	responses := make([]TransactionResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, *ToTransactionResponse(&entries[i]))
	}
	return responses
}
