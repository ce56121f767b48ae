package domain_test

import (
	"testing"
	"time"

	"github.com/stitchflow/stitchflow/internal/domain"
)

func TestDurationMinutes_OpenSession(t *testing.T) {
	s := &domain.WorkSession{StartTime: time.Now(), IsActive: true}
	if _, ok := s.DurationMinutes(); ok {
		t.Error("DurationMinutes on an open session should report ok=false")
	}
}

func TestDurationMinutes_ClosedSession(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Minute)
	s := &domain.WorkSession{StartTime: start, EndTime: &end}
	got, ok := s.DurationMinutes()
	if !ok {
		t.Fatal("DurationMinutes on a closed session should report ok=true")
	}
	if got != 95 {
		t.Errorf("DurationMinutes = %d, want 95", got)
	}
}

func TestFullName(t *testing.T) {
	tests := []struct {
		name   string
		worker domain.Worker
		want   string
	}{
		{"all parts", domain.Worker{FirstName: "Anna", LastName: "Ivanova", MiddleName: "P."}, "Ivanova Anna P."},
		{"no middle", domain.Worker{FirstName: "Anna", LastName: "Ivanova"}, "Ivanova Anna"},
		{"empty", domain.Worker{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.worker.FullName(); got != tt.want {
				t.Errorf("FullName() = %q, want %q", got, tt.want)
			}
		})
	}
}
