package validation

import (
	"strings"
	"testing"
)

func TestIsValidOrderID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "plain number", id: "100045", want: true},
		{name: "prefixed", id: "ORD-2024_0017", want: true},
		{name: "empty", id: "", want: false},
		{name: "spaces", id: "ORD 17", want: false},
		{name: "unicode", id: "заказ-1", want: false},
		{name: "too long", id: strings.Repeat("a", 65), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidOrderID(tt.id); got != tt.want {
				t.Errorf("IsValidOrderID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
