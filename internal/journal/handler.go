package journal

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/middleware"
)

// Handler handles HTTP requests for the transaction journal
type Handler struct {
	service *Service
}

// NewHandler creates a new journal handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers journal routes on the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	txs := rg.Group("/transactions")
	{
		txs.GET("", h.ListTransactions)
		txs.GET("/:hash", h.GetTransaction)
	}
}

// ListTransactions godoc
// @Summary List journaled transactions
// @Tags transactions
// @Produce json
// @Param limit query int false "Max entries (1-500, default 50)"
// @Success 200 {object} middleware.SuccessResponse{data=ListTransactionsResponse}
// @Failure 400 {object} middleware.ErrorResponse "Invalid limit"
// @Router /api/v1/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondError(c, errors.InvalidInput("limit must be an integer"))
			return
		}
		limit = n
	}

	result, err := h.service.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	middleware.RespondOK(c, result)
}

// GetTransaction godoc
// @Summary Get a journaled transaction by hash
// @Tags transactions
// @Produce json
// @Param hash path string true "Transaction hash"
// @Success 200 {object} middleware.SuccessResponse{data=TransactionResponse}
// @Failure 400 {object} middleware.ErrorResponse "Invalid hash"
// @Failure 404 {object} middleware.ErrorResponse "Not journaled"
// @Router /api/v1/transactions/{hash} [get]
func (h *Handler) GetTransaction(c *gin.Context) {
	entry, err := h.service.GetTransaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	middleware.RespondOK(c, ToTransactionResponse(entry))
}
