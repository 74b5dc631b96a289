package handlers

import (
	"errors"
	"strings"

	"keycabinet/internal/core/domain"
	"keycabinet/internal/core/services"
	"keycabinet/internal/i18n"
	"keycabinet/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// KioskHandler handles the cabinet kiosk endpoints
type KioskHandler struct {
	lending services.KioskLending
	now     services.Clock
}

// NewKioskHandler creates a new kiosk handler
func NewKioskHandler(lending services.KioskLending, now services.Clock) *KioskHandler {
	return &KioskHandler{lending: lending, now: now}
}

// ============================================================
// Request DTOs
// ============================================================

// IdentifyRequest is a card scan or typed code
type IdentifyRequest struct {
	Code string `json:"code"`
}

// BorrowRequest asks for a room's key
type BorrowRequest struct {
	Code     string `json:"code"`
	RoomCode string `json:"room_code"`
}

// ReturnRequest returns the presenter's key
type ReturnRequest struct {
	Code string `json:"code"`
}

// TransferRequest hands a borrowed key to another identity
type TransferRequest struct {
	FromCode string `json:"from_code"`
	ToCode   string `json:"to_code"`
}

// SwapRequest exchanges two borrowed keys
type SwapRequest struct {
	CodeA string `json:"code_a"`
	CodeB string `json:"code_b"`
}

// MoveRequest re-points a reservation to another room
type MoveRequest struct {
	Code     string `json:"code"`
	RoomCode string `json:"room_code"`
}

// ============================================================
// Endpoints
// ============================================================

// ListRooms lists rooms with at least one key in the cabinet
// @Summary Available rooms
// @Description Rooms that have a free key right now
// @Tags Kiosk
// @Produce json
// @Param X-Kiosk-Code header string true "Kiosk code"
// @Param X-Kiosk-Secret header string true "Kiosk secret"
// @Success 200 {object} response.Response{data=[]services.RoomAvailability}
// @Failure 503 {object} response.Response
// @Router /kiosk/rooms [get]
func (h *KioskHandler) ListRooms(c *fiber.Ctx) error {
	rooms, err := h.lending.ListAvailableRooms(c.UserContext(), h.now())
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, "", rooms)
}

// Identify shows standing, current custody and eligible rooms
// @Summary Identify presenter
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body IdentifyRequest true "Card or code"
// @Success 200 {object} response.Response{data=services.IdentifyResult}
// @Failure 404 {object} response.Response
// @Router /kiosk/identify [post]
func (h *KioskHandler) Identify(c *fiber.Ctx) error {
	var req IdentifyRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return response.BadRequest(c, "code is required")
	}

	result, err := h.lending.Identify(c.UserContext(), strings.TrimSpace(req.Code), h.now())
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, i18n.T(lang(c), "msg.identified"), result)
}

// Borrow takes a room's key out of the cabinet
// @Summary Borrow key
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body BorrowRequest true "Presenter and room"
// @Success 200 {object} response.Response{data=services.LendingData}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /kiosk/borrow [post]
func (h *KioskHandler) Borrow(c *fiber.Ctx) error {
	var req BorrowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.RoomCode) == "" {
		return response.BadRequest(c, "code and room_code are required")
	}

	data, err := h.lending.Borrow(c.UserContext(), strings.TrimSpace(req.Code), strings.TrimSpace(req.RoomCode), h.now(), requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, i18n.Tf(lang(c), "msg.borrowed", map[string]interface{}{"Slot": data.SlotNumber}), data)
}

// Return puts the presenter's key back and applies any late penalty
// @Summary Return key
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body ReturnRequest true "Presenter"
// @Success 200 {object} response.Response{data=services.LendingData}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /kiosk/return [post]
func (h *KioskHandler) Return(c *fiber.Ctx) error {
	var req ReturnRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return response.BadRequest(c, "code is required")
	}

	data, err := h.lending.ReturnKey(c.UserContext(), strings.TrimSpace(req.Code), h.now(), requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}

	msg := i18n.T(lang(c), "msg.returned")
	if data.PenaltyScore != nil && *data.PenaltyScore > 0 {
		msg = i18n.Tf(lang(c), "msg.returned_late", map[string]interface{}{
			"Minutes": *data.LateMinutes,
			"Score":   *data.PenaltyScore,
		})
	}
	return response.Success(c, msg, data)
}

// Transfer hands a borrowed key to another identity
// @Summary Transfer custody
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body TransferRequest true "From and to"
// @Success 200 {object} response.Response{data=services.CustodyResult}
// @Failure 403 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /kiosk/transfer [post]
func (h *KioskHandler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil || req.FromCode == "" || req.ToCode == "" {
		return response.BadRequest(c, "from_code and to_code are required")
	}

	result, err := h.lending.Transfer(c.UserContext(), strings.TrimSpace(req.FromCode), strings.TrimSpace(req.ToCode), h.now(), requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, i18n.T(lang(c), "msg.transferred"), result)
}

// Swap exchanges two borrowed keys between their holders
// @Summary Swap custody
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body SwapRequest true "Both holders"
// @Success 200 {object} response.Response{data=services.CustodyResult}
// @Failure 404 {object} response.Response
// @Router /kiosk/swap [post]
func (h *KioskHandler) Swap(c *fiber.Ctx) error {
	var req SwapRequest
	if err := c.BodyParser(&req); err != nil || req.CodeA == "" || req.CodeB == "" {
		return response.BadRequest(c, "code_a and code_b are required")
	}

	result, err := h.lending.Swap(c.UserContext(), strings.TrimSpace(req.CodeA), strings.TrimSpace(req.CodeB), h.now(), requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, i18n.T(lang(c), "msg.swapped"), result)
}

// Move re-points the presenter's current reservation to another room
// @Summary Move reservation
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body MoveRequest true "Presenter and target room"
// @Success 200 {object} response.Response{data=services.CustodyResult}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /kiosk/move [post]
func (h *KioskHandler) Move(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" || req.RoomCode == "" {
		return response.BadRequest(c, "code and room_code are required")
	}

	result, err := h.lending.Move(c.UserContext(), strings.TrimSpace(req.Code), strings.TrimSpace(req.RoomCode), h.now(), requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, i18n.T(lang(c), "msg.moved"), result)
}

// ============================================================
// Helpers
// ============================================================

// fail maps engine errors onto HTTP statuses
func (h *KioskHandler) fail(c *fiber.Ctx, err error) error {
	if le, ok := domain.AsLendingError(err); ok {
		return response.Fail(c, lendingStatus(le.Kind), le.Reason, i18n.T(lang(c), le.Reason))
	}
	if errors.Is(err, services.ErrStoreUnavailable) {
		return response.Fail(c, fiber.StatusServiceUnavailable, "store.unavailable", i18n.T(lang(c), "store.unavailable"))
	}
	return response.InternalServerError(c, "Internal Server Error")
}

func lendingStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindNotAuthorized, domain.KindSuspended:
		return fiber.StatusForbidden
	case domain.KindAlreadyHolding, domain.KindKeyUnavailable, domain.KindInvalidTransition:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// lang picks ?lang= then Accept-Language
func lang(c *fiber.Ctx) string {
	return i18n.Pick(c.Query("lang"), c.Get(fiber.HeaderAcceptLanguage))
}

// requestMeta collects audit context set by the middleware chain
func requestMeta(c *fiber.Ctx) services.RequestMeta {
	meta := services.RequestMeta{IPAddress: c.IP()}
	if id, ok := c.Locals("requestID").(string); ok {
		meta.RequestID = id
	}
	if kioskID, ok := c.Locals("kioskID").(uint); ok {
		meta.KioskID = &kioskID
	}
	if userID, ok := c.Locals("userID").(uint); ok {
		meta.ActorID = &userID
	}
	return meta
}
