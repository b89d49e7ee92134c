package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/otakumori/petals/internal/collect"
	"github.com/otakumori/petals/internal/webhook"
	"github.com/otakumori/petals/pkg/petals"
)

const (
	defaultCollectSource = "petal:home"
	signatureHeader      = "X-Webhook-Signature"
)

type collectRequest struct {
	Amount int64  `json:"amount"`
	Source string `json:"source"`
	Key    string `json:"key"`
}

type purchaseRequest struct {
	SKU string `json:"sku"`
}

type voucherRequest struct {
	Code string `json:"code"`
}

type adjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (server *Server) handleWallet(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	wallet, err := server.ledger.Wallet(ctx.Request.Context(), userID, server.cfg.WalletHistoryLimit)
	if err != nil {
		server.logger.Error("wallet fetch failed", zap.Error(err))
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"wallet": walletFromDomain(wallet)}))
}

func (server *Server) handleCollect(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	var request collectRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "expected JSON body"))
		return
	}
	if request.Amount <= 0 || request.Amount > server.cfg.CollectMaxPetals {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidAmount, "amount out of range"))
		return
	}
	source := request.Source
	if source == "" {
		source = defaultCollectSource
	}
	amount, err := petals.NewAmount(request.Amount)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	reason, err := petals.NewReason(source)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	var key petals.CollectKey
	if request.Key != "" {
		key, err = petals.NewCollectKey(request.Key)
	} else {
		key, err = collect.DailyKey(source, userID, time.Now())
	}
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	metadata, err := petals.NewMetadataJSON("")
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	receipt, replayed, err := server.collector.Collect(ctx.Request.Context(), userID, amount, reason, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"receipt":  receiptFromDomain(receipt),
		"replayed": replayed,
	}))
}

func (server *Server) handleQuestComplete(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	receipt, replayed, err := server.rewards.CompleteQuest(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"receipt":  receiptFromDomain(receipt),
		"replayed": replayed,
	}))
}

func (server *Server) handleAchievementUnlock(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	receipt, replayed, err := server.rewards.UnlockAchievement(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"receipt":  receiptFromDomain(receipt),
		"replayed": replayed,
	}))
}

func (server *Server) handleShopItems(ctx *gin.Context) {
	items := server.shop.Items()
	payload := make([]gin.H, 0, len(items))
	for _, item := range items {
		payload = append(payload, gin.H{
			"sku":          item.SKU,
			"name":         item.Name,
			"price_petals": item.PricePetals,
		})
	}
	ctx.JSON(http.StatusOK, success(gin.H{"items": payload}))
}

func (server *Server) handlePurchase(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "expected JSON body"))
		return
	}
	receipt, err := server.shop.Purchase(ctx.Request.Context(), userID, request.SKU)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"receipt": receiptFromDomain(receipt)}))
}

func (server *Server) handleDiscountTier(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	tier, err := server.shop.DiscountTier(ctx.Request.Context(), userID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"tier":         tier.Name,
		"discount_bps": tier.DiscountBps,
	}))
}

func (server *Server) handleVoucherRedeem(ctx *gin.Context) {
	userID, ok := server.sessionUserID(ctx)
	if !ok {
		return
	}
	var request voucherRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "expected JSON body"))
		return
	}
	receipt, err := server.shop.RedeemVoucher(ctx.Request.Context(), userID, request.Code)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"receipt": receiptFromDomain(receipt)}))
}

func (server *Server) handleAdminAdjust(ctx *gin.Context) {
	if _, err := requireAdmin(ctx); err != nil {
		ctx.JSON(http.StatusForbidden, failure(errorKindForbidden, err.Error()))
		return
	}
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := petals.NewUserID(request.UserID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	delta, err := petals.NewDelta(request.Delta)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	reason, err := petals.NewReason(request.Reason)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	metadata, err := petals.NewMetadataJSON("")
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	receipt, err := server.ledger.Adjust(ctx.Request.Context(), userID, delta, reason, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"receipt": receiptFromDomain(receipt)}))
}

func (server *Server) handleFulfillmentWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "unreadable body"))
		return
	}
	if !server.verifier.Verify(body, ctx.GetHeader(signatureHeader)) {
		respondDomainError(ctx, webhook.ErrBadSignature)
		return
	}
	var event webhook.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ctx.JSON(http.StatusBadRequest, failure(errorKindInvalidPayload, "expected JSON body"))
		return
	}
	receipt, replayed, err := server.processor.Process(ctx.Request.Context(), event)
	if err != nil {
		server.logger.Warn("webhook processing failed", zap.String("order_id", event.OrderID), zap.Error(err))
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"receipt":  receiptFromDomain(receipt),
		"replayed": replayed,
	}))
}

// sessionUserID extracts and validates the authenticated subject.
func (server *Server) sessionUserID(ctx *gin.Context) (petals.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "missing session"))
		return petals.UserID{}, false
	}
	userID, err := petals.NewUserID(claims.Subject)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "invalid session subject"))
		return petals.UserID{}, false
	}
	return userID, true
}
