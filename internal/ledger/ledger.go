package ledger

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/escrow-api/pkg/response"
)

// ErrInsufficientBalance is returned by Debit when the account cannot cover
// the requested amount.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// ErrInvalidAmount is returned when a movement amount is not positive.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// The package-level functions operate on whatever *gorm.DB they are handed,
// so callers can run them inside an enclosing transaction alongside their own
// writes.

func account(tx *gorm.DB, partyID string) (*Account, error) {
	var acc Account
	err := tx.Where("party_id = ?", partyID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acc = Account{PartyID: partyID}
		if err := tx.Create(&acc).Error; err != nil {
			return nil, err
		}
		return &acc, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Credit adds amount to the party's balance, creating the account if needed.
func Credit(tx *gorm.DB, partyID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	acc, err := account(tx, partyID)
	if err != nil {
		return err
	}
	acc.Balance += amount
	return tx.Save(acc).Error
}

// Debit removes amount from the party's balance, failing with
// ErrInsufficientBalance rather than going negative.
func Debit(tx *gorm.DB, partyID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	acc, err := account(tx, partyID)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return ErrInsufficientBalance
	}
	acc.Balance -= amount
	return tx.Save(acc).Error
}

// BalanceOf returns the party's current balance. A missing account reads as
// zero.
func BalanceOf(tx *gorm.DB, partyID string) (int64, error) {
	var acc Account
	err := tx.Where("party_id = ?", partyID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Service exposes account queries and the internal mint operation.
type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

func (s *Service) Balance(partyID string) (int64, error) {
	return BalanceOf(s.db, partyID)
}

// Mint credits freshly issued funds to a party. Reachable only through the
// internal route group; production deployments would back this with the real
// ledger bridge.
func (s *Service) Mint(partyID string, amount int64) (int64, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return Credit(tx, partyID, amount)
	})
	if err != nil {
		return 0, err
	}
	log.Info().
		Str("party_id", partyID).
		Int64("amount", amount).
		Str("service", "ledger").
		Msg("minted funds")
	return s.Balance(partyID)
}

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetBalanceHandler handles GET requests for the caller's own balance
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		partyID := c.GetString("clientID")
		if partyID == "" {
			response.Unauthorized(c, "Missing party identity")
			return
		}

		balance, err := h.service.Balance(partyID)
		response.Handle(c, gin.H{"party_id": partyID, "balance": balance}, err)
	}
}

// MintHandler handles POST requests to credit a party account
// Requires internal authentication
// URL parameter: party_id
func (h *GinHandlers) MintHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		partyID := c.Param("party_id")

		var request struct {
			Amount int64 `json:"amount" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		balance, err := h.service.Mint(partyID, request.Amount)
		response.Handle(c, gin.H{"party_id": partyID, "balance": balance}, err)
	}
}
