package main

import (
	"strings"
	"testing"

	"lumapos/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	strong := strings.Repeat("s", 32)

	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"missing secret", config.Config{}, true},
		{"short secret", config.Config{AuthSecret: "short"}, true},
		{"strong secret no pin", config.Config{AuthSecret: strong}, false},
		{"short pin", config.Config{AuthSecret: strong, ManagerPIN: "1234"}, true},
		{"weak pin", config.Config{AuthSecret: strong, ManagerPIN: "123456"}, true},
		{"repeated pin", config.Config{AuthSecret: strong, ManagerPIN: "777777"}, true},
		{"good pin", config.Config{AuthSecret: strong, ManagerPIN: "482619"}, false},
	}
	for _, tc := range cases {
		err := validateSecurityConfig(tc.cfg)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestIsWeakPIN(t *testing.T) {
	for _, pin := range []string{"123456", "000000", "999999", "121212"} {
		if !isWeakPIN(pin) {
			t.Errorf("%s not flagged as weak", pin)
		}
	}
	for _, pin := range []string{"482619", "730281"} {
		if isWeakPIN(pin) {
			t.Errorf("%s flagged as weak", pin)
		}
	}
}
