package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDAssigned(t *testing.T) {
	h := newHarness(t, true)

	resp, err := h.srv.Client().Get(h.srv.URL + "/status/ready")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDReused(t *testing.T) {
	h := newHarness(t, true)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/status/ready", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "corr-1234")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "corr-1234", resp.Header.Get("X-Request-ID"))
}
