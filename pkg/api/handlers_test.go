package api_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joestubbs/tagent/pkg/acl"
	"github.com/joestubbs/tagent/pkg/api"
	"github.com/joestubbs/tagent/pkg/auth"
	"github.com/joestubbs/tagent/pkg/files"
	"github.com/joestubbs/tagent/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = "0.2.0"

// harness runs the full HTTP surface against a real sqlite store, a real
// decision engine, and a throwaway root directory.
type harness struct {
	srv     *httptest.Server
	key     *rsa.PrivateKey
	store   *store.AclStore
	rootDir string
}

func newHarness(t *testing.T, enforceFilePolicy bool) *harness {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "tagent_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rootDir := t.TempDir()
	s := api.NewServer(
		testVersion,
		auth.NewVerifier(&key.PublicKey),
		st,
		acl.NewEngine(st, log),
		files.NewGate(rootDir),
		enforceFilePolicy,
		log,
	)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, key: key, store: st, rootDir: rootDir}
}

func (h *harness) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(h.key)
	require.NoError(t, err)
	return token
}

// do issues a request as subject and decodes the envelope. A nil body sends
// no payload; contentType is only set when body is non-nil.
func (h *harness) do(t *testing.T, method, path, subject string, body io.Reader, contentType string) (int, api.Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(t, err)
	if subject != "" {
		req.Header.Set(auth.TokenHeader, h.token(t, subject))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func aclBody(t *testing.T, subject, user, path, action, decision string) io.Reader {
	t.Helper()
	b, err := json.Marshal(map[string]string{
		"subject":  subject,
		"user":     user,
		"path":     path,
		"action":   action,
		"decision": decision,
	})
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestReady(t *testing.T) {
	h := newHarness(t, true)

	code, env := h.do(t, http.MethodGet, "/status/ready", "", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "tagent ready.", env.Message)
	assert.Equal(t, "None", env.Result)
	assert.Equal(t, testVersion, env.Version)
}

func TestMissingTokenRejected(t *testing.T) {
	h := newHarness(t, true)

	code, env := h.do(t, http.MethodGet, "/acls", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "authentication failed")
	assert.Equal(t, "none", env.Result)
	assert.Equal(t, testVersion, env.Version)
}

func TestForgedTokenRejected(t *testing.T) {
	h := newHarness(t, true)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject: "tenants@admin",
	}).SignedString(otherKey)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/acls", nil)
	require.NoError(t, err)
	req.Header.Set(auth.TokenHeader, forged)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAclCRUD(t *testing.T) {
	h := newHarness(t, true)

	// create
	code, env := h.do(t, http.MethodPost, "/acls", "tenants@admin",
		aclBody(t, "tenants@admin", "self", "/tmp/T/*.txt", "Write", "Allow"), "application/json")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ACL created successfully.", env.Message)
	id := env.Result.(string)

	// get
	code, env = h.do(t, http.MethodGet, "/acls/"+id, "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	got := env.Result.(map[string]any)
	assert.Equal(t, "tenants@admin", got["subject"])
	assert.Equal(t, "self", got["user"])
	assert.Equal(t, "/tmp/T/*.txt", got["path"])
	assert.Equal(t, "Write", got["action"])
	assert.Equal(t, "Allow", got["decision"])
	assert.Equal(t, "tenants@admin", got["create_by"])
	assert.NotEmpty(t, got["create_time"])

	// list
	code, env = h.do(t, http.MethodGet, "/acls", "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, env.Result.([]any), 1)

	// update rewrites every caller field and reassigns create_by
	code, env = h.do(t, http.MethodPut, "/acls/"+id, "files@admin",
		aclBody(t, "tenants@admin", "jdoe", "/tmp/other", "Read", "Deny"), "application/json")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ACL updated successfully.", env.Message)
	assert.Equal(t, "1", env.Result)

	code, env = h.do(t, http.MethodGet, "/acls/"+id, "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	got = env.Result.(map[string]any)
	assert.Equal(t, "jdoe", got["user"])
	assert.Equal(t, "Deny", got["decision"])
	assert.Equal(t, "files@admin", got["create_by"])

	// delete
	code, env = h.do(t, http.MethodDelete, "/acls/"+id, "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ACL deleted successfully.", env.Message)

	code, env = h.do(t, http.MethodGet, "/acls/"+id, "tenants@admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "no acl with id")
}

func TestAclValidation(t *testing.T) {
	h := newHarness(t, true)

	// unknown action
	code, env := h.do(t, http.MethodPost, "/acls", "tenants@admin",
		aclBody(t, "tenants@admin", "self", "/tmp/x", "Admin", "Allow"), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "invalid acl")

	// empty path
	code, _ = h.do(t, http.MethodPost, "/acls", "tenants@admin",
		aclBody(t, "tenants@admin", "self", "", "Read", "Allow"), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)

	// body that is not JSON
	code, env = h.do(t, http.MethodPost, "/acls", "tenants@admin",
		bytes.NewReader([]byte("not json")), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "invalid request body")

	// non-integer id
	code, env = h.do(t, http.MethodGet, "/acls/abc", "tenants@admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "must be an integer")

	// update and delete of a missing id
	code, _ = h.do(t, http.MethodPut, "/acls/9999", "tenants@admin",
		aclBody(t, "tenants@admin", "self", "/tmp/x", "Read", "Allow"), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodDelete, "/acls/9999", "tenants@admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAclSubjectListings(t *testing.T) {
	h := newHarness(t, true)

	create := func(subject, user string) {
		t.Helper()
		code, _ := h.do(t, http.MethodPost, "/acls", "tenants@admin",
			aclBody(t, subject, user, "/tmp/x", "Read", "Allow"), "application/json")
		require.Equal(t, http.StatusOK, code)
	}
	create("tenants@admin", "self")
	create("tenants@admin", "jdoe")
	create("files@admin", "self")

	code, env := h.do(t, http.MethodGet, "/acls/subject/tenants@admin", "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, env.Result.([]any), 2)

	code, env = h.do(t, http.MethodGet, "/acls/subject/tenants@admin/jdoe", "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, env.Result.([]any), 1)
	assert.Equal(t, "jdoe", env.Result.([]any)[0].(map[string]any)["user"])

	// a subject with no acls answers an empty list, not null
	code, env = h.do(t, http.MethodGet, "/acls/subject/nobody@nowhere", "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, env.Result)
}

func TestIsAuthz(t *testing.T) {
	h := newHarness(t, true)

	code, _ := h.do(t, http.MethodPost, "/acls", "tenants@admin",
		aclBody(t, "tenants@admin", "self", "/tmp/T/*.txt", "Write", "Allow"), "application/json")
	require.Equal(t, http.StatusOK, code)

	check := func(path string) (bool, any) {
		t.Helper()
		code, env := h.do(t, http.MethodGet, path, "tenants@admin", nil, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "Authorization check completed successfully.", env.Message)
		answer := env.Result.(map[string]any)
		return answer["allowed"].(bool), answer["acl_id"]
	}

	// Write grants Read on a path the glob covers, including subdirectories.
	allowed, aclID := check("/acls/isauthz/tenants@admin/self/Read/tmp/T/subdir1/foo.txt")
	assert.True(t, allowed)
	assert.NotNil(t, aclID)

	// No rule matches a different user.
	allowed, aclID = check("/acls/isauthz/tenants@admin/jdoe/Read/tmp/T/foo.txt")
	assert.False(t, allowed)
	assert.Nil(t, aclID)

	// Unknown action is an input error, not a denial.
	code, env := h.do(t, http.MethodGet, "/acls/isauthz/tenants@admin/self/Admin/tmp/T/foo.txt", "tenants@admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "invalid action")
}

func TestIsAuthzDenyWins(t *testing.T) {
	h := newHarness(t, true)

	for _, body := range []io.Reader{
		aclBody(t, "tenants@admin", "self", "/tmp/T/*", "Write", "Allow"),
		aclBody(t, "tenants@admin", "self", "/tmp/T/secret.txt", "Read", "Deny"),
	} {
		code, _ := h.do(t, http.MethodPost, "/acls", "tenants@admin", body, "application/json")
		require.Equal(t, http.StatusOK, code)
	}

	code, env := h.do(t, http.MethodGet, "/acls/isauthz/tenants@admin/self/Write/tmp/T/secret.txt", "tenants@admin", nil, "")
	require.Equal(t, http.StatusOK, code)
	answer := env.Result.(map[string]any)
	assert.False(t, answer["allowed"].(bool))
	assert.NotNil(t, answer["acl_id"])
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, true)

	code, env := h.do(t, http.MethodGet, "/nope/nothing", "tenants@admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "unrecognized route")
	assert.Equal(t, testVersion, env.Version)
}

func TestEnvelopeShapeOnError(t *testing.T) {
	h := newHarness(t, true)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/acls", nil)
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	for _, k := range []string{"status", "message", "result", "version"} {
		assert.Contains(t, raw, k, fmt.Sprintf("envelope missing %q", k))
	}
}
