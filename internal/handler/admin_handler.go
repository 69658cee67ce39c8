package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/repository"
	"github.com/ureca/billing-notifier/internal/waitqueue"
)

// QueueAdmin exposes the waiting queue to the admin API.
type QueueAdmin interface {
	QueueStatus(ctx context.Context) (waitqueue.Status, error)
	Clear(ctx context.Context) error
}

// RetryAdmin triggers one retry-scanner pass on demand.
type RetryAdmin interface {
	RunOnce(ctx context.Context) (int, error)
}

// NotificationReader is the read-only repository surface for the admin API.
type NotificationReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	GetByBillAndChannel(ctx context.Context, billID int64, channel domain.Channel) (*domain.Notification, error)
	CountFailedForRetry(ctx context.Context, maxRetries int) (int64, error)
	StatusSummary(ctx context.Context) ([]repository.StatusCount, error)
}

type AdminHandler struct {
	queue         QueueAdmin
	retries       RetryAdmin
	notifications NotificationReader
	maxRetries    int
}

func NewAdminHandler(queue QueueAdmin, retries RetryAdmin, notifications NotificationReader, maxRetries int) (*AdminHandler, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue admin is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry admin is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	if maxRetries < 1 {
		maxRetries = 3
	}

	return &AdminHandler{
		queue:         queue,
		retries:       retries,
		notifications: notifications,
		maxRetries:    maxRetries,
	}, nil
}

func RegisterAdminRoutes(router fiber.Router, queue QueueAdmin, retries RetryAdmin, notifications NotificationReader, maxRetries int) error {
	h, err := NewAdminHandler(queue, retries, notifications, maxRetries)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/queue/waiting", h.GetQueueStatus)
	v1.Delete("/queue/waiting", h.ClearQueue)
	v1.Post("/retries/run", h.RunRetryScan)
	v1.Get("/retries/pending", h.GetPendingRetries)
	v1.Get("/notifications/summary", h.GetStatusSummary)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/bills/:billId/notifications/:channel", h.GetByBillAndChannel)

	return nil
}

type queueStatusResponse struct {
	QueueKey      string   `json:"queueKey"`
	TotalCount    int64    `json:"totalCount"`
	ReadyCount    int64    `json:"readyCount"`
	ReadyMessages []string `json:"readyMessages,omitempty"`
}

type notificationResponse struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	BillID       int64      `json:"billId"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	Recipient    string     `json:"recipient"`
	Content      string     `json:"content"`
	RetryCount   int        `json:"retryCount"`
	ScheduledAt  time.Time  `json:"scheduledAt"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (h *AdminHandler) GetQueueStatus(c *fiber.Ctx) error {
	status, err := h.queue.QueueStatus(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(queueStatusResponse{
		QueueKey:      status.QueueKey,
		TotalCount:    status.TotalCount,
		ReadyCount:    status.ReadyCount,
		ReadyMessages: status.ReadyMessages,
	})
}

func (h *AdminHandler) ClearQueue(c *fiber.Ctx) error {
	if err := h.queue.Clear(c.Context()); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "cleared",
	})
}

func (h *AdminHandler) RunRetryScan(c *fiber.Ctx) error {
	scheduled, err := h.retries.RunOnce(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"scheduled": scheduled,
	})
}

func (h *AdminHandler) GetPendingRetries(c *fiber.Ctx) error {
	count, err := h.notifications.CountFailedForRetry(c.Context(), h.maxRetries)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"pending":    count,
		"maxRetries": h.maxRetries,
	})
}

func (h *AdminHandler) GetStatusSummary(c *fiber.Ctx) error {
	rows, err := h.notifications.StatusSummary(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Status.String()] = row.Count
		total += row.Count
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"total":  total,
		"counts": counts,
	})
}

func (h *AdminHandler) GetNotification(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id <= 0 {
		return toHTTPError(fmt.Errorf("%w: id must be a positive integer", domain.ErrValidation))
	}

	notification, err := h.notifications.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *AdminHandler) GetByBillAndChannel(c *fiber.Ctx) error {
	billID, err := strconv.ParseInt(strings.TrimSpace(c.Params("billId")), 10, 64)
	if err != nil || billID <= 0 {
		return toHTTPError(fmt.Errorf("%w: billId must be a positive integer", domain.ErrValidation))
	}
	channel, err := domain.ParseChannelFromString(c.Params("channel"))
	if err != nil {
		return toHTTPError(err)
	}

	notification, err := h.notifications.GetByBillAndChannel(c.Context(), billID, channel)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		UserID:       n.UserID,
		BillID:       n.BillID,
		Channel:      n.Channel.String(),
		Status:       n.Status.String(),
		Recipient:    n.Recipient,
		Content:      n.Content,
		RetryCount:   n.RetryCount,
		ScheduledAt:  n.ScheduledAt,
		SentAt:       n.SentAt,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
