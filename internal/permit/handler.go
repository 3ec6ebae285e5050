package permit

import (
	"github.com/gin-gonic/gin"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/middleware"
)

// Handler handles HTTP requests for permit verification
type Handler struct {
	service *Service
}

// NewHandler creates a new permit handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers permit routes on the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	permits := rg.Group("/permits")
	{
		permits.POST("/verify", h.VerifyPermit)
	}
}

// VerifyPermit godoc
// @Summary Verify an EIP-2612 permit signature
// @Description Recovers the signer and checks owner and deadline. Nothing is signed or sent.
// @Tags permits
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Typed data and signature"
// @Success 200 {object} middleware.SuccessResponse{data=VerifyResponse}
// @Failure 400 {object} middleware.ErrorResponse "Malformed permit"
// @Router /api/v1/permits/verify [post]
func (h *Handler) VerifyPermit(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.InvalidInput(err.Error()))
		return
	}

	result, err := h.service.Verify(&req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	middleware.RespondOK(c, result)
}
