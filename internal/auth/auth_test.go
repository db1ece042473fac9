package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"bearer scheme", "Bearer agk_test_key_123", "agk_test_key_123", nil},
		{"lowercase scheme", "bearer agk_test_key_123", "agk_test_key_123", nil},
		{"bare key", "agk_test_key_123", "agk_test_key_123", nil},
		{"missing header", "", "", ErrMissingAPIKey},
		{"wrong prefix", "Bearer sk_live_123456", "", ErrInvalidAPIKey},
		{"too short", "Bearer agk_1", "", ErrInvalidAPIKey},
		{"trailing whitespace", "Bearer agk_test_key_123  ", "agk_test_key_123", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/check/input", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := BearerToken(r)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("token = %q, want %q", got, tc.want)
			}
		})
	}
}
