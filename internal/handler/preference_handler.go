package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ureca/billing-notifier/internal/domain"
)

// PreferenceAdmin is the service surface for managing user preferences.
type PreferenceAdmin interface {
	Get(ctx context.Context, userID int64, channel string) (*domain.Preference, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Preference, error)
	SetQuietWindow(ctx context.Context, userID int64, channel, start, end string) (*domain.Preference, error)
	SetEnabled(ctx context.Context, userID int64, channel string, enabled bool) (*domain.Preference, error)
}

type PreferenceHandler struct {
	service PreferenceAdmin
}

func NewPreferenceHandler(service PreferenceAdmin) (*PreferenceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	return &PreferenceHandler{service: service}, nil
}

func RegisterPreferenceRoutes(router fiber.Router, service PreferenceAdmin) error {
	h, err := NewPreferenceHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/users/:userId/preferences", h.ListPreferences)
	v1.Get("/users/:userId/preferences/:channel", h.GetPreference)
	v1.Put("/users/:userId/preferences/:channel/quiet-window", h.SetQuietWindow)
	v1.Put("/users/:userId/preferences/:channel/enabled", h.SetEnabled)

	return nil
}

type quietWindowRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type preferenceResponse struct {
	UserID     int64     `json:"userId"`
	Channel    string    `json:"channel"`
	Enabled    bool      `json:"enabled"`
	Priority   int       `json:"priority"`
	QuietStart *string   `json:"quietStart,omitempty"`
	QuietEnd   *string   `json:"quietEnd,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (h *PreferenceHandler) ListPreferences(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return toHTTPError(err)
	}

	prefs, err := h.service.ListByUser(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]preferenceResponse, 0, len(prefs))
	for i := range prefs {
		responses = append(responses, toPreferenceResponse(&prefs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId":      userID,
		"preferences": responses,
	})
}

func (h *PreferenceHandler) GetPreference(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return toHTTPError(err)
	}

	pref, err := h.service.Get(c.Context(), userID, c.Params("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferenceResponse(pref))
}

func (h *PreferenceHandler) SetQuietWindow(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req quietWindowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	pref, err := h.service.SetQuietWindow(c.Context(), userID, c.Params("channel"), req.Start, req.End)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferenceResponse(pref))
}

func (h *PreferenceHandler) SetEnabled(c *fiber.Ctx) error {
	userID, err := parseUserID(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req enabledRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Enabled == nil {
		return toHTTPError(fmt.Errorf("%w: enabled is required", domain.ErrValidation))
	}

	pref, err := h.service.SetEnabled(c.Context(), userID, c.Params("channel"), *req.Enabled)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferenceResponse(pref))
}

func parseUserID(c *fiber.Ctx) (int64, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(c.Params("userId")), 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: userId must be a positive integer", domain.ErrValidation)
	}
	return userID, nil
}

func toPreferenceResponse(p *domain.Preference) preferenceResponse {
	if p == nil {
		return preferenceResponse{}
	}

	resp := preferenceResponse{
		UserID:    p.UserID,
		Channel:   p.Channel.String(),
		Enabled:   p.Enabled,
		Priority:  p.Priority,
		UpdatedAt: p.UpdatedAt,
	}
	if p.QuietStart != nil {
		s := p.QuietStart.String()
		resp.QuietStart = &s
	}
	if p.QuietEnd != nil {
		e := p.QuietEnd.String()
		resp.QuietEnd = &e
	}
	return resp
}
