package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/transport"
)

type stubPreferenceAdmin struct {
	getFn            func(ctx context.Context, userID int64, channel string) (*domain.Preference, error)
	listByUserFn     func(ctx context.Context, userID int64) ([]domain.Preference, error)
	setQuietWindowFn func(ctx context.Context, userID int64, channel, start, end string) (*domain.Preference, error)
	setEnabledFn     func(ctx context.Context, userID int64, channel string, enabled bool) (*domain.Preference, error)
}

func (s *stubPreferenceAdmin) Get(ctx context.Context, userID int64, channel string) (*domain.Preference, error) {
	return s.getFn(ctx, userID, channel)
}

func (s *stubPreferenceAdmin) ListByUser(ctx context.Context, userID int64) ([]domain.Preference, error) {
	return s.listByUserFn(ctx, userID)
}

func (s *stubPreferenceAdmin) SetQuietWindow(ctx context.Context, userID int64, channel, start, end string) (*domain.Preference, error) {
	return s.setQuietWindowFn(ctx, userID, channel, start, end)
}

func (s *stubPreferenceAdmin) SetEnabled(ctx context.Context, userID int64, channel string, enabled bool) (*domain.Preference, error) {
	return s.setEnabledFn(ctx, userID, channel, enabled)
}

func newPreferenceTestApp(t *testing.T, svc PreferenceAdmin) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := RegisterPreferenceRoutes(app, svc); err != nil {
		t.Fatalf("failed to register routes: %v", err)
	}
	return app
}

func TestListPreferences(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		listByUserFn: func(_ context.Context, userID int64) ([]domain.Preference, error) {
			if userID != 7 {
				t.Fatalf("userID = %d, want 7", userID)
			}
			return []domain.Preference{
				{UserID: 7, Channel: domain.ChannelEmail, Enabled: true, Priority: 1},
				{UserID: 7, Channel: domain.ChannelSMS, Enabled: false, Priority: 2},
			}, nil
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/users/7/preferences", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var got struct {
		UserID      int64                `json:"userId"`
		Preferences []preferenceResponse `json:"preferences"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.UserID != 7 || len(got.Preferences) != 2 {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.Preferences[1].Channel != "SMS" || got.Preferences[1].Enabled {
		t.Fatalf("unexpected second preference: %+v", got.Preferences[1])
	}
}

func TestGetPreference(t *testing.T) {
	t.Parallel()

	start, _ := domain.ParseTimeOfDay("21:00")
	end, _ := domain.ParseTimeOfDay("07:30")
	svc := &stubPreferenceAdmin{
		getFn: func(_ context.Context, userID int64, channel string) (*domain.Preference, error) {
			return &domain.Preference{
				UserID:     userID,
				Channel:    domain.ChannelPush,
				Enabled:    true,
				QuietStart: &start,
				QuietEnd:   &end,
			}, nil
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/users/7/preferences/push", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var got preferenceResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.QuietStart == nil || *got.QuietStart != "21:00" {
		t.Fatalf("quietStart = %v, want 21:00", got.QuietStart)
	}
	if got.QuietEnd == nil || *got.QuietEnd != "07:30" {
		t.Fatalf("quietEnd = %v, want 07:30", got.QuietEnd)
	}
}

func TestGetPreferenceMapsDomainErrors(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		getFn: func(context.Context, int64, string) (*domain.Preference, error) {
			return nil, domain.ErrNotFound
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/users/7/preferences/email", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/users/0/preferences/email", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid userId", resp.StatusCode)
	}
}

func TestSetQuietWindow(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		setQuietWindowFn: func(_ context.Context, userID int64, channel, start, end string) (*domain.Preference, error) {
			if channel != "sms" || start != "22:00" || end != "06:00" {
				t.Fatalf("unexpected args: channel=%s start=%s end=%s", channel, start, end)
			}
			s, _ := domain.ParseTimeOfDay(start)
			e, _ := domain.ParseTimeOfDay(end)
			return &domain.Preference{
				UserID:     userID,
				Channel:    domain.ChannelSMS,
				Enabled:    true,
				QuietStart: &s,
				QuietEnd:   &e,
			}, nil
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPut,
		"/v1/users/7/preferences/sms/quiet-window",
		`{"start":"22:00","end":"06:00"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var got preferenceResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.QuietStart == nil || *got.QuietStart != "22:00" {
		t.Fatalf("quietStart = %v, want 22:00", got.QuietStart)
	}
}

func TestSetQuietWindowValidationErrorIs400(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		setQuietWindowFn: func(context.Context, int64, string, string, string) (*domain.Preference, error) {
			return nil, domain.ErrValidation
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPut,
		"/v1/users/7/preferences/sms/quiet-window",
		`{"start":"22:00"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		setEnabledFn: func(_ context.Context, userID int64, channel string, enabled bool) (*domain.Preference, error) {
			if enabled {
				t.Fatal("expected enabled=false")
			}
			return &domain.Preference{UserID: userID, Channel: domain.ChannelEmail, Enabled: false}, nil
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPut,
		"/v1/users/7/preferences/email/enabled",
		`{"enabled":false}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var got preferenceResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.Enabled {
		t.Fatal("expected enabled=false in response")
	}
}

func TestSetEnabledRequiresField(t *testing.T) {
	t.Parallel()

	svc := &stubPreferenceAdmin{
		setEnabledFn: func(context.Context, int64, string, bool) (*domain.Preference, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	app := newPreferenceTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPut,
		"/v1/users/7/preferences/email/enabled",
		`{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
