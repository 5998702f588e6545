package util_test

import (
	"testing"

	"github.com/liuxinzero07/doris/util"
)

func TestParseInt(t *testing.T) {
	tests := []struct {
		input    string
		fallback int
		want     int
	}{
		{"123", 0, 123},
		{"0", 99, 0},
		{"-5", 0, -5},
		{"abc", 42, 42},
		{"", 7, 7},
		{"   ", 8, 8},
	}

	for _, tt := range tests {
		got := util.ParseInt(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseInt(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseInt64(t *testing.T) {
	tests := []struct {
		input    string
		fallback int64
		want     int64
	}{
		{"9223372036854775807", 0, 9223372036854775807},
		{"-1", 0, -1},
		{"10003", 0, 10003},
		{"x", -1, -1},
		{"", 5, 5},
	}

	for _, tt := range tests {
		got := util.ParseInt64(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseInt64(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseUint64(t *testing.T) {
	tests := []struct {
		input    string
		fallback uint64
		want     uint64
	}{
		{"18446744073709551615", 0, 18446744073709551615},
		{"0", 9, 0},
		{"42", 0, 42},
		{"-1", 7, 7},
		{"abc", 3, 3},
	}

	for _, tt := range tests {
		got := util.ParseUint64(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseUint64(%q, %d) = %d; want %d", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"t", false, true},
		{"f", true, false},
		{"yes", false, false},
		{"", true, true},
		{"   ", false, false},
	}

	for _, tt := range tests {
		got := util.ParseBool(tt.input, tt.fallback)
		if got != tt.want {
			t.Errorf("ParseBool(%q, %v) = %v; want %v", tt.input, tt.fallback, got, tt.want)
		}
	}
}
