package util

import (
	"strings"
	"testing"
)

func TestTruncateLog_ShortString(t *testing.T) {
	input := "short log"
	result := TruncateLog(input, MaxErrorBodyLen)
	if result != input {
		t.Errorf("TruncateLog() should not truncate short strings, got %q", result)
	}
}

func TestTruncateLog_ExactLimit(t *testing.T) {
	input := "12345678901234567890" // 20 chars
	result := TruncateLog(input, 20)
	if result != input {
		t.Errorf("TruncateLog() should not truncate at exact limit, got %q", result)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	input := "1234567890abcdefghij" // 20 chars
	result := TruncateLog(input, 10)
	if result != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("TruncateLog() = %q, want \"1234567890... [truncated, 20 bytes total]\"", result)
	}
}

func TestTruncateBytes_ErrorBody(t *testing.T) {
	body := []byte(`{"error":"server_error","error_description":"` + strings.Repeat("x", 1000) + `"}`)
	result := TruncateBytes(body)
	if !strings.HasPrefix(result, `{"error":"server_error"`) {
		t.Errorf("TruncateBytes() lost the prefix: %q", result[:40])
	}
	if !strings.HasSuffix(result, "bytes total]") {
		t.Errorf("TruncateBytes() should note the original size, got suffix %q", result[len(result)-20:])
	}
}

func TestEllipsis(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Quarterly report", 20, "Quarterly report"},
		{"Quarterly report", 10, "Quarter..."},
		{"Überweisung bestätigt", 8, "Überw..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := Ellipsis(tt.in, tt.max); got != tt.want {
			t.Errorf("Ellipsis(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
