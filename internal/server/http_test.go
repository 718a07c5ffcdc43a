package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"github.com/orvull/sparkcards/internal/auth"
	"github.com/orvull/sparkcards/internal/google"
	"github.com/orvull/sparkcards/internal/models"
)

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

var jsonHeader = http.Header{"Content-Type": {"application/json"}}

func TestRouter_RootAndHealth(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	rec, _ := do(t, h, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SparkCards backend running", rec.Body.String())

	rec, body := do(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true}, body)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouter_IssueInputs(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	t.Run("json body", func(t *testing.T) {
		rec, body := do(t, h, http.MethodPost, "/issue",
			strings.NewReader(`{"name":"Ana","stamp_n":0}`), jsonHeader)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, true, body["created"])
		assert.Equal(t, body["saveUrl"], body["save_url"])
		assert.Equal(t, "https://img.test/stamps_0.png", body["heroImage"])
		assert.EqualValues(t, 0, body["stamp_n"])
		assert.EqualValues(t, 8, body["total"])
		assert.True(t, strings.HasPrefix(body["objectId"].(string), testIssuer+".user_ana_"))
	})
	t.Run("query string", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/issue?client_name=Luis&stamp_n=2&object_id=dev-9", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, testIssuer+".user_dev-9", body["objectId"])
		assert.EqualValues(t, 2, body["stamp_n"])
	})
	t.Run("form body", func(t *testing.T) {
		form := url.Values{"name": {"Eva"}, "total": {"10"}, "stamp_n": {"10"}}
		rec, body := do(t, h, http.MethodPost, "/issue", strings.NewReader(form.Encode()),
			http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.EqualValues(t, 10, body["total"])
		assert.Equal(t, "https://img.test/stamps_10.png", body["heroImage"])
	})
	t.Run("reissue reports existing", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/issue?name=Luis&object_id=dev-9", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["created"])
		assert.EqualValues(t, 2, body["stamp_n"])
	})
}

func TestRouter_IssueValidation(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	for name, target := range map[string]string{
		"missing name":    "/issue",
		"bad stamp_n":     "/issue?name=Ana&stamp_n=three",
		"stamp_n > total": "/issue?name=Ana&stamp_n=9",
	} {
		t.Run(name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, target, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, "validation", body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}

	rec, body := do(t, h, http.MethodPost, "/issue", strings.NewReader(`{"name":`), jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["kind"])
	assert.Zero(t, f.objects.calls.Load())
}

func TestRouter_AwardStamp(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	_, issued := do(t, h, http.MethodPost, "/issue", strings.NewReader(`{"name":"Ana"}`), jsonHeader)
	id := issued["objectId"].(string)

	rec, body := do(t, h, http.MethodPost, "/award_stamp",
		strings.NewReader(`{"passId":"`+id+`"}`), jsonHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, id, body["objectId"])
	assert.EqualValues(t, 0, body["previous"])
	assert.EqualValues(t, 1, body["new_stamp_n"])
	assert.EqualValues(t, 8, body["total"])
	assert.Equal(t, "https://img.test/stamps_1.png", body["heroImage"])

	rec, body = do(t, h, http.MethodGet, "/pass/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["stamp_n"])
	assert.Equal(t, "Ana", body["name"])

	rec, body = do(t, h, http.MethodGet, "/save_url/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(body["saveUrl"].(string), auth.DefaultSaveURLBase+"/"))
}

func TestRouter_AwardStampErrors(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	rec, body := do(t, h, http.MethodPost, "/award_stamp", strings.NewReader(`{}`), jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["kind"])
	assert.Zero(t, f.objects.calls.Load(), "no backend call without an id")

	rec, body = do(t, h, http.MethodPost, "/award_stamp?object_id=ghost", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "not_found", body["kind"])
	assert.Contains(t, body["error"], testIssuer+".user_ghost")
}

func TestFailure(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{&models.ValidationError{Field: "name", Reason: "is required"}, http.StatusBadRequest, "validation"},
		{&models.NotFoundError{ID: "x"}, http.StatusInternalServerError, "not_found"},
		{&models.RemoteError{Op: "genericObject patch", Status: 403, Body: "denied"}, http.StatusInternalServerError, "remote"},
		{&models.CredentialError{Err: errors.New("no adc")}, http.StatusInternalServerError, "credential"},
		{&models.SigningError{Err: errors.New("denied")}, http.StatusInternalServerError, "signing"},
	}
	for _, c := range cases {
		status, body := failure(c.err)
		assert.Equal(t, c.status, status, c.kind)
		assert.Equal(t, c.kind, body.Kind)
		assert.Equal(t, c.err.Error(), body.Error)
	}

	status, body := failure(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", body.Kind)
	assert.Equal(t, "internal error: boom", body.Error)
}

func TestRouter_StaffAuth(t *testing.T) {
	f := newFixture(t)
	hash, err := auth.HashStaffKey("barista-key")
	require.NoError(t, err)
	verifier := google.Verifier{
		Audience: "https://sparkcards.test",
		Emails:   []string{"owner@cafe.es"},
		Validate: func(_ context.Context, tok, aud string) (*idtoken.Payload, error) {
			if tok != "good-token" {
				return nil, errors.New("idtoken: invalid token")
			}
			return &idtoken.Payload{Audience: aud, Claims: map[string]interface{}{"email": "owner@cafe.es"}}, nil
		},
	}
	h := NewRouter(f.svc, RouterOptions{StaffKeyHash: hash, Verifier: verifier})

	_, issued := do(t, h, http.MethodGet, "/issue?name=Ana", nil, nil)
	target := "/award_stamp?object_id=" + url.QueryEscape(issued["objectId"].(string))

	rec, body := do(t, h, http.MethodPost, target, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["ok"])

	rec, _ = do(t, h, http.MethodPost, target, nil, http.Header{"X-Staff-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, target, nil, http.Header{"Authorization": {"Bearer bad-token"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = do(t, h, http.MethodPost, target, nil, http.Header{"X-Staff-Key": {"barista-key"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["new_stamp_n"])

	rec, body = do(t, h, http.MethodPost, target, nil, http.Header{"Authorization": {"Bearer good-token"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["new_stamp_n"])
}

func TestRouter_ReissueKeepsStamps(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, RouterOptions{})

	_, issued := do(t, h, http.MethodPost, "/issue",
		strings.NewReader(`{"client_name":"Ana","object_id":"device-123"}`), jsonHeader)
	id := issued["objectId"].(string)
	for i := 0; i < 5; i++ {
		rec, _ := do(t, h, http.MethodPost, "/award_stamp", strings.NewReader(`{"object_id":"`+id+`"}`), jsonHeader)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := do(t, h, http.MethodPost, "/issue",
		strings.NewReader(`{"client_name":"Ana Lopez","object_id":"device-123"}`), jsonHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["created"])
	assert.EqualValues(t, 5, body["stamp_n"])
	assert.Equal(t, "https://img.test/stamps_5.png", body["heroImage"])

	obj, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ana Lopez", obj.Subheader)
	assert.Equal(t, "5 / 8", obj.Modules[0].Body)
	assert.Equal(t, "https://img.test/stamps_5.png", obj.HeroImageURI)
}

func TestRouter_IssueStampNeedsStaff(t *testing.T) {
	f := newFixture(t)
	hash, err := auth.HashStaffKey("barista-key")
	require.NoError(t, err)
	h := NewRouter(f.svc, RouterOptions{StaffKeyHash: hash})

	rec, issued := do(t, h, http.MethodGet, "/issue?name=Ana&object_id=dev-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "customers issue without stamp_n")
	id := issued["objectId"].(string)

	rec, body := do(t, h, http.MethodGet, "/issue?name=Ana&stamp_n=8&object_id=dev-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["kind"])

	rec, _ = do(t, h, http.MethodGet, "/issue?name=Eve&stamp_n=8", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "new cards cannot start full either")
	assert.Equal(t, 1, f.store.Len())

	obj, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "0 / 8", obj.Modules[0].Body)

	rec, body = do(t, h, http.MethodGet, "/issue?name=Ana&stamp_n=3&object_id=dev-1", nil,
		http.Header{"X-Staff-Key": {"barista-key"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["stamp_n"])
}

func TestRouter_RateLimit(t *testing.T) {
	f := newFixture(t)
	limiter := NewRateLimiter(1, 2)
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }
	h := NewRouter(f.svc, RouterOptions{Limiter: limiter})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodGet, "/issue?name=Ana", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := do(t, h, http.MethodGet, "/issue?name=Ana", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", body["kind"])

	// a spoofed first hop does not open a new bucket
	rec, _ = do(t, h, http.MethodGet, "/issue?name=Ana", nil, http.Header{"X-Forwarded-For": {"198.51.100.9, 192.0.2.1"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// another client has its own bucket
	rec, _ = do(t, h, http.MethodGet, "/issue?name=Ana", nil, http.Header{"X-Forwarded-For": {"10.0.0.7"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// award is not rate limited
	rec, _ = do(t, h, http.MethodPost, "/award_stamp", strings.NewReader(`{}`), jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// one token refills per minute
	now = now.Add(time.Minute)
	rec, _ = do(t, h, http.MethodGet, "/issue?name=Ana", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "10.0.0.1", clientID(req), "last hop is appended by the proxy")

	req.Header.Set("X-Forwarded-For", "spoofed, 203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, not-an-ip")
	assert.Equal(t, "192.0.2.1", clientID(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "192.0.2.1", clientID(req), "X-Real-IP is client supplied")
}

func TestRouter_Metrics(t *testing.T) {
	m := NewMetrics()
	f := newFixture(t, WithMetrics(m))
	h := NewRouter(f.svc, RouterOptions{Metrics: m})

	rec, _ := do(t, h, http.MethodGet, "/issue?name=Ana", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `sparkcards_passes_issued_total{outcome="created"} 1`)
	assert.Contains(t, text, `sparkcards_requests_total{method="GET",route="issue",status="200"} 1`)
}
