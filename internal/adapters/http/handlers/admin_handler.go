package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/services"
	"keycabinet/internal/i18n"
	"keycabinet/internal/pkg/pagination"
	"keycabinet/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler handles staff endpoints
type AdminHandler struct {
	penalties    *services.PenaltyConfigService
	reservations *services.ReservationService
	standing     *services.StandingService
	admin        *services.AdminService
	now          services.Clock
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	penalties *services.PenaltyConfigService,
	reservations *services.ReservationService,
	standing *services.StandingService,
	admin *services.AdminService,
	now services.Clock,
) *AdminHandler {
	return &AdminHandler{
		penalties:    penalties,
		reservations: reservations,
		standing:     standing,
		admin:        admin,
		now:          now,
	}
}

// ============================================================
// Penalty configs
// ============================================================

// ListPenaltyConfigs lists every penalty rule set
// @Summary List penalty configs
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]models.PenaltyConfig}
// @Router /admin/penalty-configs [get]
func (h *AdminHandler) ListPenaltyConfigs(c *fiber.Ctx) error {
	list, err := h.penalties.List(c.UserContext())
	if err != nil {
		return response.InternalServerError(c, "Failed to get penalty configs")
	}
	return response.Success(c, "Penalty configs retrieved", list)
}

// GetActivePenaltyConfig returns the rule set in force
// @Summary Active penalty config
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=services.ActivePenaltyConfig}
// @Router /admin/penalty-configs/active [get]
func (h *AdminHandler) GetActivePenaltyConfig(c *fiber.Ctx) error {
	active, err := h.penalties.GetActive(c.UserContext())
	if err != nil {
		return response.InternalServerError(c, "Failed to get active penalty config")
	}
	if active.Warning != "" {
		return response.Success(c, i18n.T(lang(c), active.Warning), active)
	}
	return response.Success(c, "Active penalty config retrieved", active)
}

// CreatePenaltyConfig stores a new rule set, optionally activating it
// @Summary Create penalty config
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PenaltyConfigInput true "Rule set"
// @Success 201 {object} response.Response{data=models.PenaltyConfig}
// @Failure 400 {object} response.Response
// @Router /admin/penalty-configs [post]
func (h *AdminHandler) CreatePenaltyConfig(c *fiber.Ctx) error {
	var req services.PenaltyConfigInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	cfg, err := h.penalties.Create(c.UserContext(), &req, actorID(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidPenaltyConfig) {
			return response.BadRequest(c, err.Error())
		}
		return response.InternalServerError(c, "Failed to create penalty config")
	}
	return response.Created(c, "Penalty config created", cfg)
}

// ActivatePenaltyConfig makes one rule set the only active one
// @Summary Activate penalty config
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Config ID"
// @Success 200 {object} response.Response{data=models.PenaltyConfig}
// @Failure 404 {object} response.Response
// @Router /admin/penalty-configs/{id}/activate [post]
func (h *AdminHandler) ActivatePenaltyConfig(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid config ID")
	}

	cfg, err := h.penalties.Activate(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, services.ErrPenaltyConfigNotFound) {
			return response.NotFound(c, "Penalty config not found")
		}
		return response.InternalServerError(c, "Failed to activate penalty config")
	}
	return response.Success(c, "Penalty config activated", cfg)
}

// ============================================================
// Reservations & bookings
// ============================================================

// MaterializeRequest selects the day to expand (YYYY-MM-DD, default today)
type MaterializeRequest struct {
	Date string `json:"date"`
}

// Materialize expands weekly schedules into reservations for a date
// @Summary Materialize reservations
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body MaterializeRequest false "Target date"
// @Success 200 {object} response.Response{data=services.MaterializeSummary}
// @Router /admin/reservations/materialize [post]
func (h *AdminHandler) Materialize(c *fiber.Ctx) error {
	var req MaterializeRequest
	_ = c.BodyParser(&req)

	date := h.now()
	if req.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", req.Date, h.reservations.Location())
		if err != nil {
			return response.BadRequest(c, "date must be YYYY-MM-DD")
		}
		date = d
	}

	sum, err := h.reservations.Materialize(c.UserContext(), date)
	if err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return response.ServiceUnavailable(c, err.Error())
		}
		return response.InternalServerError(c, "Failed to materialize reservations")
	}
	return response.Success(c, "Reservations materialized", sum)
}

// ListBookings lists bookings with filters
// @Summary List bookings
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "RESERVED | BORROWED | RETURNED | LATE"
// @Param user_id query int false "User ID"
// @Param room_code query string false "Room code"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response{data=pagination.Response}
// @Router /admin/bookings [get]
func (h *AdminHandler) ListBookings(c *fiber.Ctx) error {
	params := pagination.GetParams(c)
	from, to := pagination.GetDateRange(c, h.reservations.Location())

	filter := repositories.BookingFilter{
		Status:   strings.ToUpper(c.Query("status")),
		RoomCode: c.Query("room_code"),
		From:     from,
		To:       to,
	}
	if uid, err := strconv.ParseUint(c.Query("user_id"), 10, 32); err == nil {
		filter.UserID = uint(uid)
	}

	list, total, err := h.admin.ListBookings(c.UserContext(), filter, params.Offset, params.Limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to get bookings")
	}
	return response.Success(c, "Bookings retrieved", pagination.NewResponse(list, params, total))
}

// OverdueReport lists keys still out past due plus grace
// @Summary Overdue keys
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]services.OverdueItem}
// @Router /admin/bookings/overdue [get]
func (h *AdminHandler) OverdueReport(c *fiber.Ctx) error {
	items, err := h.admin.OverdueReport(c.UserContext(), h.now())
	if err != nil {
		return response.InternalServerError(c, "Failed to get overdue report")
	}
	return response.Success(c, "Overdue report retrieved", items)
}

// ListAudit lists the system log
// @Summary Audit trail
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param action query string false "Action"
// @Param user_id query int false "User ID"
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Success 200 {object} response.Response{data=pagination.Response}
// @Router /admin/audit [get]
func (h *AdminHandler) ListAudit(c *fiber.Ctx) error {
	params := pagination.GetParams(c)
	filter := repositories.AuditFilter{Action: strings.ToUpper(c.Query("action"))}
	if uid, err := strconv.ParseUint(c.Query("user_id"), 10, 32); err == nil {
		filter.UserID = uint(uid)
	}

	list, total, err := h.admin.ListAudit(c.UserContext(), filter, params.Offset, params.Limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to get audit log")
	}
	return response.Success(c, "Audit log retrieved", pagination.NewResponse(list, params, total))
}

// ============================================================
// Users & standing
// ============================================================

// ListUsers lists users with their standing
// @Summary List users
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=pagination.Response}
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	params := pagination.GetParams(c)
	users, total, err := h.standing.ListUsers(c.UserContext(), params.Offset, params.Limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to get users")
	}
	return response.Success(c, "Users retrieved", pagination.NewResponse(users, params, total))
}

// PenaltyHistory lists a user's penalty log
// @Summary User penalty history
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} response.Response{data=pagination.Response}
// @Router /admin/users/{id}/penalties [get]
func (h *AdminHandler) PenaltyHistory(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	params := pagination.GetParams(c)
	logs, total, err := h.standing.PenaltyHistory(c.UserContext(), id, params.Offset, params.Limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to get penalty history")
	}
	return response.Success(c, "Penalty history retrieved", pagination.NewResponse(logs, params, total))
}

// StandingRequest carries a reason, and for unban an optional reset score
type StandingRequest struct {
	Reason     string `json:"reason"`
	ResetScore int    `json:"reset_score"`
	ScoreCut   int    `json:"score_cut"`
}

// Ban suspends a user
// @Summary Ban user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body StandingRequest true "Reason"
// @Success 200 {object} response.Response{data=models.User}
// @Router /admin/users/{id}/ban [post]
func (h *AdminHandler) Ban(c *fiber.Ctx) error {
	id, req, err := standingInput(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	user, err := h.standing.Ban(c.UserContext(), id, req.Reason, h.now(), requestMeta(c))
	if err != nil {
		return standingFailure(c, err)
	}
	return response.Success(c, "User suspended", user.ToResponse())
}

// Unban lifts a suspension
// @Summary Unban user
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body StandingRequest true "Reason and reset score"
// @Success 200 {object} response.Response{data=models.User}
// @Router /admin/users/{id}/unban [post]
func (h *AdminHandler) Unban(c *fiber.Ctx) error {
	id, req, err := standingInput(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	user, err := h.standing.Unban(c.UserContext(), id, req.Reason, req.ResetScore, h.now(), requestMeta(c))
	if err != nil {
		return standingFailure(c, err)
	}
	return response.Success(c, "User unsuspended", user.ToResponse())
}

// ManualPenalty deducts score by hand
// @Summary Manual penalty
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body StandingRequest true "Score cut and reason"
// @Success 200 {object} response.Response{data=models.User}
// @Router /admin/users/{id}/penalty [post]
func (h *AdminHandler) ManualPenalty(c *fiber.Ctx) error {
	id, req, err := standingInput(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	user, err := h.standing.ManualPenalty(c.UserContext(), id, req.ScoreCut, req.Reason, h.now(), requestMeta(c))
	if err != nil {
		return standingFailure(c, err)
	}
	return response.Success(c, "Penalty applied", user.ToResponse())
}

// RunRestore runs standing restoration now
// @Summary Restore standing
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=services.RestoreSummary}
// @Router /admin/standing/restore [post]
func (h *AdminHandler) RunRestore(c *fiber.Ctx) error {
	sum, err := h.standing.Restore(c.UserContext(), h.now())
	if err != nil {
		return response.InternalServerError(c, "Failed to restore standing")
	}
	return response.Success(c, "Standing restored", sum)
}

// ============================================================
// Access overrides
// ============================================================

// ListOverrides lists grants in force now
// @Summary List access overrides
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]models.AccessOverride}
// @Router /admin/overrides [get]
func (h *AdminHandler) ListOverrides(c *fiber.Ctx) error {
	list, err := h.standing.ListOverrides(c.UserContext(), h.now())
	if err != nil {
		return response.InternalServerError(c, "Failed to get overrides")
	}
	return response.Success(c, "Overrides retrieved", list)
}

// GrantOverride lets a user take a room's key without a roster entry
// @Summary Grant access override
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.OverrideInput true "Grant"
// @Success 201 {object} response.Response{data=models.AccessOverride}
// @Router /admin/overrides [post]
func (h *AdminHandler) GrantOverride(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req services.OverrideInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	grant, err := h.standing.GrantOverride(c.UserContext(), &req, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidOverride):
			return response.BadRequest(c, err.Error())
		case errors.Is(err, services.ErrUserNotFound):
			return response.NotFound(c, "User not found")
		case errors.Is(err, services.ErrRoomNotFound):
			return response.NotFound(c, "Room not found")
		default:
			return response.InternalServerError(c, "Failed to grant override")
		}
	}
	return response.Created(c, "Override granted", grant)
}

// RevokeOverride ends a grant early
// @Summary Revoke access override
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Override ID"
// @Success 200 {object} response.Response
// @Router /admin/overrides/{id} [delete]
func (h *AdminHandler) RevokeOverride(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid override ID")
	}

	if err := h.standing.RevokeOverride(c.UserContext(), id, h.now()); err != nil {
		if errors.Is(err, services.ErrOverrideNotFound) {
			return response.NotFound(c, "Override not found")
		}
		return response.InternalServerError(c, "Failed to revoke override")
	}
	return response.Success(c, "Override revoked", nil)
}

// ============================================================
// Helpers
// ============================================================

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func actorID(c *fiber.Ctx) *uint {
	if id, ok := c.Locals("userID").(uint); ok {
		return &id
	}
	return nil
}

func standingInput(c *fiber.Ctx) (uint, *StandingRequest, error) {
	id, err := paramID(c)
	if err != nil {
		return 0, nil, errors.New("Invalid user ID")
	}
	var req StandingRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, nil, errors.New("Invalid request body")
	}
	return id, &req, nil
}

func standingFailure(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		return response.NotFound(c, "User not found")
	case errors.Is(err, services.ErrAlreadySuspended), errors.Is(err, services.ErrNotSuspended):
		return response.Conflict(c, err.Error())
	case errors.Is(err, services.ErrReasonRequired), errors.Is(err, services.ErrInvalidScoreCut):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		return response.ServiceUnavailable(c, err.Error())
	default:
		return response.InternalServerError(c, "Failed to update standing")
	}
}
