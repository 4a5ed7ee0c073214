package utils

import (
	"testing"
	"time"

	"maison/api/models"

	"github.com/oklog/ulid/v2"
)

func TestParseTimeRangeDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	start, end, err := ParseTimeRange("", "", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !end.Equal(now) {
		t.Errorf("expected end %v, got %v", now, end)
	}
	if want := now.Add(-7 * 24 * time.Hour); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
}

func TestParseTimeRangeErrors(t *testing.T) {
	now := time.Now()
	for _, tc := range []struct {
		start, end string
	}{
		{"yesterday", ""},
		{"", "2026-13-01"},
		{"2026-03-10T00:00:00Z", "2026-03-09T00:00:00Z"},
	} {
		if _, _, err := ParseTimeRange(tc.start, tc.end, now); err == nil {
			t.Errorf("ParseTimeRange(%q, %q): expected error", tc.start, tc.end)
		}
	}
}

func TestNewNotificationIDIsTimeOrdered(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewNotificationID(t0)
	b := NewNotificationID(t0.Add(time.Millisecond))
	if a >= b {
		t.Errorf("expected %s < %s", a, b)
	}
	id, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("not a ulid: %v", err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(t0) {
		t.Errorf("expected embedded time %v, got %v", t0, got)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	user := &models.User{ID: 7, Email: "ops@maison.example", Role: models.RoleAdmin}

	token, err := GenerateJWT(user, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	claims, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims.UserID != 7 || claims.Email != user.Email || claims.Role != models.RoleAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := ValidateJWT(token, []byte("other-secret")); err == nil {
		t.Error("expected validation failure with a different secret")
	}
	if _, err := GenerateJWT(user, nil, time.Hour); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestJWTExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateJWT(&models.User{ID: 1}, secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ValidateJWT(token, secret); err == nil {
		t.Error("expected expired token to be rejected")
	}
}
