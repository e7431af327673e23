package handlers

import (
	"net/http"
	"time"

	"referral-system/models"

	"github.com/gin-gonic/gin"
)

type ReferralAccountResponse struct {
	Code              string  `json:"code"`
	PendingPayout     float64 `json:"pending_payout"`
	AccumulatedPayout float64 `json:"accumulated_payout"`
	MinWithdrawal     float64 `json:"min_withdrawal"`
	Invited           int     `json:"invited"`
	Completed         int     `json:"completed"`
}

type ReferralFriend struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Paid   bool   `json:"paid"`
}

// GetReferralAccountHandler – витрина счёта для личного кабинета:
// код, балансы, минимальный порог вывода и счётчики приглашённых
func GetReferralAccountHandler(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := models.GetAccountByUserID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger account not found"})
		return
	}

	refs, err := models.GetReferralsByCode(account.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load referrals"})
		return
	}

	completed := 0
	for _, r := range refs {
		if r.Status == models.ReferralStatusCompleted {
			completed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": ReferralAccountResponse{
			Code:              account.Code,
			PendingPayout:     account.PendingPayout,
			AccumulatedPayout: account.AccumulatedPayout,
			MinWithdrawal:     account.PayoutPerReferral,
			Invited:           len(refs),
			Completed:         completed,
		},
	})
}

// GetReferralFriendsHandler – список приглашённых со статусами.
// Email приглашённых не раскрываем, только даты и статусы
func GetReferralFriendsHandler(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := models.GetAccountByUserID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger account not found"})
		return
	}

	refs, err := models.GetReferralsByCode(account.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load referrals"})
		return
	}

	friends := make([]ReferralFriend, 0, len(refs))
	for _, r := range refs {
		friends = append(friends, ReferralFriend{
			Date:   r.CreatedAt.Format(time.DateOnly),
			Status: string(r.Status),
			Paid:   r.Paid,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"friends": friends,
	})
}
