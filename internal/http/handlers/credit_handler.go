package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AddCreditsRequest deposits credits. Amount is a decimal string so no
// precision is lost in transit.
type AddCreditsRequest struct {
	Amount    string `json:"amount" binding:"required" example:"10.00"`
	Reference string `json:"reference,omitempty" example:"invoice-2031"`
}

// BalanceResponse reports a balance after a deposit.
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance" swaggertype:"string"`
}

// GetCredits godoc
// @ID          getCredits
// @Summary     Get credit balance
// @Description Returns the balance (created with the initial grant on first use) and recent transactions.
// @Tags        Credits
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       limit      query   int     false "Transactions to include"  minimum(0) maximum(100) default(20)
// @Success     200  {object}  services.Account
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /credits [get]
func (h *Handlers) GetCredits(c *gin.Context) {
	limit := queryInt(c, "limit", 20, 0, 100)
	acct, err := h.credSvc.Account(c.Request.Context(), userID(c), limit)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, acct)
}

// AddCredits godoc
// @ID          addCredits
// @Summary     Add credits
// @Tags        Credits
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AddCreditsRequest  true  "Deposit"
// @Success     200  {object}  handlers.BalanceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid amount"
// @Router      /credits [post]
func (h *Handlers) AddCredits(c *gin.Context) {
	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount required")
		return
	}
	uid := userID(c)
	bal, err := h.credSvc.Deposit(c.Request.Context(), uid, req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, BalanceResponse{UserID: uid, Balance: bal})
}

// GetUsage godoc
// @ID          getUsage
// @Summary     Usage summary
// @Description Totals token usage and cost over a trailing window, overall and per provider.
// @Tags        Credits
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       window     query   string  false "Go duration, e.g. 24h or 720h"  default(720h)
// @Success     200  {object}  credits.Summary
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid window"
// @Router      /usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	var window time.Duration
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}
	sum, err := h.credSvc.Usage(c.Request.Context(), userID(c), window)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sum)
}
