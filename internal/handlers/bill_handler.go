package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/bill-reconciler/internal/auth"
	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

type BillHandler struct {
	store interfaces.LedgerStore
}

func NewBillHandler(store interfaces.LedgerStore) *BillHandler {
	return &BillHandler{store: store}
}

// GetBill returns a bill with its remaining balance and minimum installment.
func (h *BillHandler) GetBill(c *gin.Context) {
	bill, ok := h.loadVisibleBill(c)
	if !ok {
		return
	}

	remaining := bill.Remaining()
	c.JSON(http.StatusOK, gin.H{
		"status":              true,
		"bill":                billView(*bill),
		"minimum_payment":     bill.MinimumPayment(),
		"can_pay_installment": bill.Status != models.StatusPaid && remaining > 0,
	})
}

// ListInstallments returns the applied payments of a bill, oldest first.
func (h *BillHandler) ListInstallments(c *gin.Context) {
	bill, ok := h.loadVisibleBill(c)
	if !ok {
		return
	}

	records, err := h.store.ListAppliedEvents(c.Request.Context(), bill.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   true,
		"bill":     billView(*bill),
		"payments": installmentViews(records, nil),
		"summary": gin.H{
			"total_due":            bill.TotalDue,
			"amount_paid":          bill.AmountPaid,
			"remaining":            bill.Remaining(),
			"payment_count":        len(records),
			"is_fully_paid":        bill.Status == models.StatusPaid,
			"minimum_next_payment": bill.MinimumPayment(),
		},
	})
}

// loadVisibleBill resolves :id and enforces that students only see their own bills.
func (h *BillHandler) loadVisibleBill(c *gin.Context) (*models.Bill, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid bill id"})
		return nil, false
	}

	bill, err := h.store.GetBill(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	claims, _ := auth.ClaimsFrom(c)
	if claims == nil || (claims.Role != auth.RoleAdmin && claims.UserID != bill.OwnerID) {
		respondError(c, models.ErrForbidden)
		return nil, false
	}
	return bill, true
}
