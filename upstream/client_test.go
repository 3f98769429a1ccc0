package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/codes/", APIKey: "k1"}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestValidate(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/codes/validate", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("Api-Key"))
		assert.Equal(t, "req-9", r.Header.Get("X-Request-ID"))

		var in validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]bool{"valid": in.Value == "123456"})
	})
	ctx := goVerify.WithRequestID(context.Background(), "req-9")

	ok, err := c.Validate(ctx, "alice", goVerify.FlowEmailVerification, "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Validate(ctx, "alice", goVerify.FlowEmailVerification, "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateErrorStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Validate(context.Background(), "alice", goVerify.FlowLogin, "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamStatus))
}

func TestValidateMissingField(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Validate(context.Background(), "alice", goVerify.FlowLogin, "pw")
	assert.Error(t, err)
}

func TestIssue(t *testing.T) {
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/codes/issue", r.URL.Path)
		var in issueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "email", in.Channel)
		assert.Equal(t, "a@example.com", in.Destination)
		_ = json.NewEncoder(w).Encode(goVerify.IssueReceipt{Reference: "msg-1", IssuedAt: issued})
	})

	r, err := c.Issue(context.Background(), "alice", goVerify.FlowEmailVerification, "email", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", r.Reference)
	assert.Equal(t, "email", r.Channel)
	assert.Equal(t, "a@example.com", r.Destination)
	assert.True(t, r.IssuedAt.Equal(issued))
}

func TestTransportFailureSurfacesAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, Timeout: time.Second}, nil, nil)
	require.NoError(t, err)

	engine, err := goVerify.New().WithCodeValidator(c).WithCodeIssuer(c).Build()
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	_, err = engine.Begin(ctx, "alice", goVerify.FlowLogin)
	require.NoError(t, err)
	_, err = engine.Submit(ctx, "alice", goVerify.FlowLogin, goVerify.Input{Value: "correct-horse"})
	assert.Equal(t, goVerify.KindTransientUpstream, goVerify.KindOf(err))

	st, err := engine.Status(ctx, "alice", goVerify.FlowLogin)
	require.NoError(t, err)
	assert.Equal(t, 0, st.FailCount)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
