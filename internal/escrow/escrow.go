package escrow

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/escrow-api/pkg/response"
)

// Service handles escrow order lifecycle operations
type Service struct {
	db    *Database
	nowFn func() time.Time
}

// NewService creates a new escrow service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		nowFn: time.Now,
	}
}

// SetNowFunc overrides the time source used by the service. Primarily
// intended for tests to provide deterministic timestamps.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		s.nowFn = time.Now
		return
	}
	s.nowFn = now
}

func (s *Service) now() time.Time {
	return s.nowFn()
}

// GetDB exposes the database wrapper for the deadline processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// CreateOrderRequest is the payload for opening a new order.
type CreateOrderRequest struct {
	Product     string `json:"product" binding:"required"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity" binding:"required,gt=0"`
	Price       int64  `json:"price" binding:"required,gt=0"`
	DurationMS  int64  `json:"duration_ms" binding:"required,gt=0"`
	Status      string `json:"status"`
}

// UpdateOrderRequest carries optional field updates. Only fields present in
// the request are applied; none of them affect the escrow balance.
type UpdateOrderRequest struct {
	Product     *string `json:"product"`
	Description *string `json:"description"`
	Quantity    *int64  `json:"quantity"`
	Price       *int64  `json:"price"`
	Status      *string `json:"status"`
	DeadlineMS  *int64  `json:"deadline_ms"`
	Provider    *string `json:"provider"`
}

// CreateOrder creates a new order owned by the buyer with idempotency support.
// A repeated idempotency key within the retention window returns the original
// order instead of creating a duplicate.
func (s *Service) CreateOrder(buyerID string, req CreateOrderRequest, idempotencyKey string) (*Order, error) {
	now := s.now()

	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ExpiresAt.After(now) {
		return s.db.GetOrder(record.ResourceID)
	}

	status := req.Status
	if status == "" {
		status = StatusOpen
	}

	order := NewOrder(buyerID, req.Product, req.Description, req.Quantity, req.Price,
		time.Duration(req.DurationMS)*time.Millisecond, status, now)
	order.OrderID = "ORD_" + uuid.New().String()

	if err := s.db.CreateOrderWithIdempotency(order, idempotencyKey, now); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("buyer_id", buyerID).
		Int64("price", order.Price).
		Time("deadline", order.Deadline).
		Str("service", "escrow").
		Msg("order created")

	return order, nil
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(orderID string) (*Order, error) {
	return s.db.GetOrder(orderID)
}

// AcceptOrder assigns the caller as the order's supplier.
func (s *Service) AcceptOrder(orderID, caller string) (*Order, error) {
	return s.db.Transition(orderID, EventAccepted, caller, s.now(), func(o *Order) error {
		return o.Accept(caller)
	})
}

// FulfillOrder marks the order's work as done, supplier only, strictly
// before the deadline.
func (s *Service) FulfillOrder(orderID, caller string) (*Order, error) {
	now := s.now()
	return s.db.Transition(orderID, EventFulfilled, caller, now, func(o *Order) error {
		return o.Fulfill(caller, now)
	})
}

// DisputeOrder flags the order as disputed, buyer only.
func (s *Service) DisputeOrder(orderID, caller string) (*Order, error) {
	return s.db.Transition(orderID, EventDisputed, caller, s.now(), func(o *Order) error {
		return o.Dispute(caller)
	})
}

// ResolveDispute settles a disputed order in favour of the supplier or the
// buyer, draining the full escrow to the chosen side.
func (s *Service) ResolveDispute(orderID, caller string, favorSupplier bool) (*Order, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("caller", caller).
		Bool("favor_supplier", favorSupplier).
		Str("service", "escrow").
		Logger()

	order, payout, err := s.db.Settle(orderID, EventResolved, caller, s.now(), func(o *Order) (Payout, *Receipt, error) {
		p, err := o.Resolve(caller, favorSupplier)
		return p, nil, err
	})
	if err != nil {
		logger.Error().Err(err).Msg("dispute resolution rejected")
		return nil, err
	}

	logger.Info().
		Str("recipient", payout.To).
		Int64("amount", payout.Amount).
		Msg("dispute resolved")

	return order, nil
}

// ReleasePayment pays the full escrow to the supplier once the order is
// fulfilled, undisputed and past its deadline, and issues the buyer's
// write-once receipt.
func (s *Service) ReleasePayment(orderID, caller, memo string) (*Order, *Receipt, error) {
	now := s.now()
	logger := log.With().
		Str("order_id", orderID).
		Str("caller", caller).
		Str("service", "escrow").
		Logger()

	var receipt *Receipt
	order, payout, err := s.db.Settle(orderID, EventReleased, caller, now, func(o *Order) (Payout, *Receipt, error) {
		// Snapshot before the transition resets the assignment.
		supplierID := o.Supplier.ID
		product := o.Product
		quantity := o.Quantity

		p, err := o.ReleasePayment(caller, now)
		if err != nil {
			return Payout{}, nil, err
		}

		receipt = &Receipt{
			ReceiptID:  "RCT_" + uuid.New().String(),
			OrderID:    o.OrderID,
			BuyerID:    o.BuyerID,
			SupplierID: supplierID,
			Amount:     p.Amount,
			Product:    product,
			Quantity:   quantity,
			Memo:       memo,
			IssuedAt:   now,
		}
		return p, receipt, nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("payment release rejected")
		return nil, nil, err
	}

	logger.Info().
		Str("receipt_id", receipt.ReceiptID).
		Str("supplier_id", payout.To).
		Int64("amount", payout.Amount).
		Msg("payment released")

	return order, receipt, nil
}

// AddFunds deposits into the order escrow from the buyer's account with
// idempotency support.
func (s *Service) AddFunds(orderID, caller string, amount int64, idempotencyKey string) (*Order, error) {
	now := s.now()

	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ExpiresAt.After(now) {
		return s.db.GetOrder(record.ResourceID)
	}

	order, err := s.db.FundOrder(orderID, caller, amount, idempotencyKey, now)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("buyer_id", caller).
		Int64("amount", amount).
		Int64("escrow", order.Escrow).
		Str("service", "escrow").
		Msg("escrow funded")

	return order, nil
}

// CancelOrder resets the cycle, refunding the escrow to the buyer when a
// supplier is assigned and the order is neither fulfilled nor disputed.
func (s *Service) CancelOrder(orderID, caller string) (*Order, error) {
	order, payout, err := s.db.Settle(orderID, EventCancelled, caller, s.now(), func(o *Order) (Payout, *Receipt, error) {
		p, err := o.Cancel(caller)
		return p, nil, err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("caller", caller).
		Int64("refunded", payout.Amount).
		Str("service", "escrow").
		Msg("order cancelled")

	return order, nil
}

// RequestRefund returns the full escrow to the buyer before fulfillment.
func (s *Service) RequestRefund(orderID, caller string) (*Order, error) {
	order, payout, err := s.db.Settle(orderID, EventRefunded, caller, s.now(), func(o *Order) (Payout, *Receipt, error) {
		p, err := o.RequestRefund(caller)
		return p, nil, err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("buyer_id", caller).
		Int64("refunded", payout.Amount).
		Str("service", "escrow").
		Msg("escrow refunded")

	return order, nil
}

// RateSupplier records buyer feedback on a fulfilled order.
func (s *Service) RateSupplier(orderID, caller string, rating int64) (*Order, error) {
	return s.db.Transition(orderID, EventRated, caller, s.now(), func(o *Order) error {
		return o.Rate(caller, rating)
	})
}

// ExtendDeadline pushes the order deadline out, supplier only.
func (s *Service) ExtendDeadline(orderID, caller string, additional time.Duration) (*Order, error) {
	return s.db.Transition(orderID, EventDeadlineExtended, caller, s.now(), func(o *Order) error {
		return o.ExtendDeadline(caller, additional)
	})
}

// UpdateOrder applies the buyer's field updates present in the request.
func (s *Service) UpdateOrder(orderID, caller string, req UpdateOrderRequest) (*Order, error) {
	return s.db.Transition(orderID, EventUpdated, caller, s.now(), func(o *Order) error {
		if req.Product != nil {
			if err := o.UpdateProduct(caller, *req.Product); err != nil {
				return err
			}
		}
		if req.Description != nil {
			if err := o.UpdateDescription(caller, *req.Description); err != nil {
				return err
			}
		}
		if req.Quantity != nil {
			if err := o.UpdateQuantity(caller, *req.Quantity); err != nil {
				return err
			}
		}
		if req.Price != nil {
			if err := o.UpdatePrice(caller, *req.Price); err != nil {
				return err
			}
		}
		if req.Status != nil {
			if err := o.UpdateStatus(caller, *req.Status); err != nil {
				return err
			}
		}
		if req.DeadlineMS != nil {
			if err := o.UpdateDeadline(caller, time.UnixMilli(*req.DeadlineMS)); err != nil {
				return err
			}
		}
		if req.Provider != nil {
			if err := o.UpdateProvider(caller, *req.Provider); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReceipts lists the receipts issued for an order.
func (s *Service) GetReceipts(orderID string) ([]Receipt, error) {
	return s.db.GetReceipts(orderID)
}

// GetEvents lists the audit events recorded for an order.
func (s *Service) GetEvents(orderID string) ([]EscrowEvent, error) {
	return s.db.GetEvents(orderID)
}

// GinHandlers contains HTTP handlers for escrow endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for escrow endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// handle maps transition rejections onto HTTP statuses, keeping the
// per-precondition code visible to callers, and falls back to the shared
// response helpers for everything else.
func handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		response.Success(c, data)
		return
	}

	var terr *Error
	switch {
	case errors.As(err, &terr):
		status := http.StatusConflict
		switch terr.Kind {
		case KindAuthorization:
			status = http.StatusForbidden
		case KindStateConflict:
			status = http.StatusConflict
		case KindTemporal, KindInsufficientFunds:
			status = http.StatusUnprocessableEntity
		}
		response.Rejection(c, status, terr.Code, terr.Message)
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFound(c, "Order not found")
	default:
		response.InternalError(c, "An unexpected error occurred")
	}
}

func callerID(c *gin.Context) (string, bool) {
	caller := c.GetString("clientID")
	if caller == "" {
		response.Unauthorized(c, "Missing party identity")
		return "", false
	}
	return caller, true
}

// CreateOrderHandler handles POST requests to create new orders
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(caller, req, idempotencyKey)
		handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests to retrieve an order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		handle(c, order, err)
	}
}

// AcceptOrderHandler handles POST requests by a supplier to take an order
func (h *GinHandlers) AcceptOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		order, err := h.service.AcceptOrder(c.Param("order_id"), caller)
		handle(c, order, err)
	}
}

// FulfillOrderHandler handles POST requests by the supplier to mark work done
func (h *GinHandlers) FulfillOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		order, err := h.service.FulfillOrder(c.Param("order_id"), caller)
		handle(c, order, err)
	}
}

// DisputeOrderHandler handles POST requests by the buyer to open a dispute
func (h *GinHandlers) DisputeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		order, err := h.service.DisputeOrder(c.Param("order_id"), caller)
		handle(c, order, err)
	}
}

// ResolveDisputeHandler handles POST requests by the buyer to settle a dispute
// Request body selects the favoured side
func (h *GinHandlers) ResolveDisputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			FavorSupplier bool `json:"favor_supplier"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.ResolveDispute(c.Param("order_id"), caller, req.FavorSupplier)
		handle(c, order, err)
	}
}

// ReleasePaymentHandler handles POST requests by the buyer to pay the supplier
func (h *GinHandlers) ReleasePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			Memo string `json:"memo"`
		}
		// Body is optional for release
		_ = c.ShouldBindJSON(&req)

		order, receipt, err := h.service.ReleasePayment(c.Param("order_id"), caller, req.Memo)
		if err != nil {
			handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"order": order, "receipt": receipt})
	}
}

// AddFundsHandler handles POST requests by the buyer to fund the escrow
// Requires an idempotency key in headers
func (h *GinHandlers) AddFundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req struct {
			Amount int64 `json:"amount" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.AddFunds(c.Param("order_id"), caller, req.Amount, idempotencyKey)
		handle(c, order, err)
	}
}

// CancelOrderHandler handles POST requests by either party to cancel
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), caller)
		handle(c, order, err)
	}
}

// RequestRefundHandler handles POST requests by the buyer to withdraw funds
func (h *GinHandlers) RequestRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		order, err := h.service.RequestRefund(c.Param("order_id"), caller)
		handle(c, order, err)
	}
}

// RateSupplierHandler handles POST requests by the buyer to rate the supplier
func (h *GinHandlers) RateSupplierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			Rating int64 `json:"rating" binding:"required,gte=1,lte=5"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.RateSupplier(c.Param("order_id"), caller, req.Rating)
		handle(c, order, err)
	}
}

// ExtendDeadlineHandler handles POST requests by the supplier to extend the deadline
func (h *GinHandlers) ExtendDeadlineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			AdditionalMS int64 `json:"additional_ms" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.ExtendDeadline(c.Param("order_id"), caller,
			time.Duration(req.AdditionalMS)*time.Millisecond)
		handle(c, order, err)
	}
}

// UpdateOrderHandler handles PATCH requests by the buyer to update order fields
func (h *GinHandlers) UpdateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}

		var req UpdateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.UpdateOrder(c.Param("order_id"), caller, req)
		handle(c, order, err)
	}
}

// GetReceiptsHandler handles GET requests for an order's receipts
func (h *GinHandlers) GetReceiptsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		receipts, err := h.service.GetReceipts(c.Param("order_id"))
		handle(c, receipts, err)
	}
}

// GetEventsHandler handles GET requests for an order's audit events
func (h *GinHandlers) GetEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := h.service.GetEvents(c.Param("order_id"))
		handle(c, events, err)
	}
}
