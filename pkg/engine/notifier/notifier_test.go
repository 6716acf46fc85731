package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureSummary() Summary {
	return Summary{
		RunID:     "7f3d9c2a",
		Account:   "acme",
		StartedAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Reports: []TechReport{
			{Technology: "bucket", Created: 2, Changed: 1, Deleted: 0, NewIssues: 1, Unjustified: 2, Score: 10},
			{Technology: "policy"},
		},
	}
}

func TestSlackPayloadGolden(t *testing.T) {
	c := NewSlackClient("https://hooks.example.test/T000/B000", "#security")
	payload := c.constructPayload(fixtureSummary())

	g := goldie.New(t)
	g.AssertJson(t, "slack_payload", payload)
}

func TestNotifyPostsWebhook(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSlackClient(srv.URL, "")
	require.NoError(t, c.Notify(context.Background(), fixtureSummary()))
	assert.Equal(t, "application/json", got)
}

func TestNotifyFailsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewSlackClient(srv.URL, "")
	assert.Error(t, c.Notify(context.Background(), fixtureSummary()))
}

func TestQuietRunSendsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no webhook expected for a quiet run")
	}))
	defer srv.Close()

	c := NewSlackClient(srv.URL, "")
	quiet := Summary{RunID: "x", Account: "acme", Reports: []TechReport{{Technology: "bucket"}}}
	require.NoError(t, c.Notify(context.Background(), quiet))
	assert.False(t, quiet.HasFindings())
}

func TestEmptyURLIsNoOp(t *testing.T) {
	c := NewSlackClient("", "")
	require.NoError(t, c.Notify(context.Background(), fixtureSummary()))
}
