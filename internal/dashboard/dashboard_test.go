package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVolatility(t *testing.T) {
	tests := []struct {
		current, previous int64
		want              float64
	}{
		{0, 0, 0},
		{10, 0, 100},
		{10, 10, 0},
		{15, 10, 50},
		{5, 10, -50},
	}
	for _, tt := range tests {
		if got := volatility(tt.current, tt.previous); got != tt.want {
			t.Errorf("volatility(%d, %d) = %v; want %v", tt.current, tt.previous, got, tt.want)
		}
	}
}

func TestParseDay(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/general-report?day=29&month=2&year=2024", nil)
	day, err := parseDay(req)
	if err != nil {
		t.Fatalf("parseDay: %v", err)
	}
	if day.Format("2006-01-02") != "2024-02-29" {
		t.Errorf("day = %s", day.Format("2006-01-02"))
	}
}

func TestParseDay_RejectsImpossibleDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/general-report?day=31&month=2&year=2024", nil)
	if _, err := parseDay(req); err == nil {
		t.Error("impossible date accepted")
	}
}

func TestParseDay_RejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/general-report?day=abc", nil)
	if _, err := parseDay(req); err == nil {
		t.Error("non-numeric day accepted")
	}
}

func TestParseDay_DefaultsToToday(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/general-report", nil)
	if _, err := parseDay(req); err != nil {
		t.Fatalf("parseDay with no params: %v", err)
	}
}
