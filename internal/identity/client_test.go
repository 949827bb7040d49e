package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"oracle-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVerified(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
		err    bool
	}{
		{"fully verified", http.StatusOK, `{"success": true, "data": {"user_id": "u1", "is_ocr_done": true, "is_face_verified": true}}`, true, false},
		{"face pending", http.StatusOK, `{"success": true, "data": {"user_id": "u1", "is_ocr_done": true, "is_face_verified": false}}`, false, false},
		{"no record", http.StatusNotFound, `{"success": false}`, false, false},
		{"auth down", http.StatusInternalServerError, ``, false, true},
		{"garbled", http.StatusOK, `{`, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/protected/api/v2/ekyc-progress/u1", r.URL.Path)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			ok, err := NewClient(srv.URL+"/", time.Second).IsVerified(context.Background(), "u1")

			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestStaticVerifier(t *testing.T) {
	v := StaticVerifier{Verified: map[string]bool{"u1": true}}

	ok, _ := v.IsVerified(context.Background(), "u1")
	assert.True(t, ok)
	ok, _ = v.IsVerified(context.Background(), "u2")
	assert.False(t, ok)
}

func TestNewVerifier_Modes(t *testing.T) {
	v, err := NewVerifier(config.IdentityConfig{Mode: ModeHTTP, AuthServiceURL: "http://auth.local/", Timeout: time.Second})
	require.NoError(t, err)
	client, ok := v.(*Client)
	require.True(t, ok)
	assert.Equal(t, "http://auth.local", client.BaseURL)

	v, err = NewVerifier(config.IdentityConfig{Mode: ModeStatic})
	require.NoError(t, err)
	ok, _ = v.IsVerified(context.Background(), "anyone")
	assert.True(t, ok)

	_, err = NewVerifier(config.IdentityConfig{Mode: "fixture"})
	assert.Error(t, err)
}
