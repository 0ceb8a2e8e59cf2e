package fetcher

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, isPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		deny    bool
		wantErr error
	}{
		{"https allowed", "https://example.com/feed", false, nil},
		{"ftp rejected", "ftp://example.com/feed", false, ErrInvalidURL},
		{"empty host", "http:///feed", false, ErrInvalidURL},
		{"malformed", "http://[::1", false, ErrInvalidURL},
		{"loopback denied", "http://127.0.0.1:8080/", true, ErrPrivateIP},
		{"metadata endpoint denied", "http://169.254.169.254/latest", true, ErrPrivateIP},
		{"loopback allowed when disabled", "http://127.0.0.1:8080/", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url, tt.deny)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
