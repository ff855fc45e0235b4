package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/bill-reconciler/internal/auth"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const (
	defaultAdminListLimit = 10
	maxAdminListLimit     = 200
)

// PaymentHistory returns the caller's bills, open ones first, with the applied
// installments and a summary.
func (h *BillHandler) PaymentHistory(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()

	bills, err := h.store.ListBillsByOwner(ctx, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	records, err := h.store.ListOwnerAppliedEvents(ctx, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	sortForHistory(bills)

	var (
		totalPaid models.Money
		counts    = map[models.Status]int{}
		items     = make([]gin.H, 0, len(bills))
	)
	for _, bill := range bills {
		totalPaid += bill.AmountPaid
		counts[bill.Status]++
		items = append(items, billView(bill))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       true,
		"bills":        items,
		"installments": installmentViews(records, nil),
		"summary": gin.H{
			"total_paid":        totalPaid,
			"paid_count":        counts[models.StatusPaid],
			"partial_count":     counts[models.StatusPartial],
			"unpaid_count":      counts[models.StatusUnpaid],
			"failed_count":      counts[models.StatusFailed],
			"total_count":       len(bills),
			"installment_count": len(records),
		},
	})
}

// ListOwnerInstallments returns every applied payment of the caller, newest first.
func (h *BillHandler) ListOwnerInstallments(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()

	records, err := h.store.ListOwnerAppliedEvents(ctx, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	bills, err := h.store.ListBillsByOwner(ctx, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	byID := make(map[int64]models.Bill, len(bills))
	for _, bill := range bills {
		byID[bill.ID] = bill
	}

	c.JSON(http.StatusOK, gin.H{
		"status": true,
		"data":   installmentViews(records, byID),
	})
}

// ListBills is the administrator overview, optionally filtered by status.
// Legacy spellings such as lunas or cicilan are accepted.
func (h *BillHandler) ListBills(c *gin.Context) {
	var filter models.BillFilter
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": err.Error()})
			return
		}
		filter.Status = status
	}

	filter.Limit = defaultAdminListLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid limit"})
			return
		}
		filter.Limit = min(limit, maxAdminListLimit)
	}

	bills, err := h.store.ListBills(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]gin.H, 0, len(bills))
	for _, bill := range bills {
		items = append(items, billView(bill))
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "data": items})
}

// sortForHistory puts open bills first (newest year, then calendar month) and
// the rest by latest payment.
func sortForHistory(bills []models.Bill) {
	sort.SliceStable(bills, func(i, j int) bool {
		a, b := bills[i], bills[j]
		if a.Status.IsOpen() != b.Status.IsOpen() {
			return a.Status.IsOpen()
		}
		if a.Status.IsOpen() {
			if a.Period.Year != b.Period.Year {
				return a.Period.Year > b.Period.Year
			}
			return a.Period.MonthNumber() < b.Period.MonthNumber()
		}
		return paidUnix(a) > paidUnix(b)
	})
}

func paidUnix(bill models.Bill) int64 {
	if bill.LastPaymentAt == nil {
		return 0
	}
	return bill.LastPaymentAt.Unix()
}

func installmentViews(records []models.AppliedEventRecord, bills map[int64]models.Bill) []gin.H {
	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		item := gin.H{
			"id":               rec.ID,
			"bill_id":          rec.BillID,
			"source":           rec.Source,
			"order_id":         rec.ExternalOrderID,
			"amount":           rec.AppliedAmount,
			"requested_amount": rec.RequestedAmount,
			"payment_method":   rec.MethodLabel,
			"transaction_id":   rec.TransactionID,
			"paid_at":          rec.OccurredAt,
		}
		if bill, ok := bills[rec.BillID]; ok {
			item["bill"] = billView(bill)
		}
		items = append(items, item)
	}
	return items
}
