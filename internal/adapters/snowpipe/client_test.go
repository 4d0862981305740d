package snowpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/snowauth"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// fakeIngest simulates the v2 streaming endpoints: hostname discovery,
// channel open, row append and bulk channel status.
type fakeIngest struct {
	srv *httptest.Server

	continuation    atomic.Int64
	committedOffset atomic.Int64

	mu            sync.Mutex
	appendBodies  []string
	appendParams  []map[string]string
	appendHeaders []http.Header
	appendStatus  int
}

func (f *fakeIngest) setAppendStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendStatus = code
}

func (f *fakeIngest) appends() (bodies []string, params []map[string]string, headers []http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.appendBodies...),
		append([]map[string]string(nil), f.appendParams...),
		append([]http.Header(nil), f.appendHeaders...)
}

func newFakeIngest(t *testing.T) *fakeIngest {
	t.Helper()
	f := &fakeIngest{appendStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v2/streaming/hostname", func(w http.ResponseWriter, r *http.Request) {
		// hand back our own URL, scheme included, so the client talks to us
		json.NewEncoder(w).Encode(map[string]string{"hostname": f.srv.URL})
	})

	mux.HandleFunc("PUT /v2/streaming/databases/", func(w http.ResponseWriter, r *http.Request) {
		f.continuation.Store(1)
		json.NewEncoder(w).Encode(map[string]any{
			"next_continuation_token": "cont-1",
			"channel_status": map[string]any{
				"last_committed_offset_token": "41",
			},
		})
	})

	mux.HandleFunc("POST /v2/streaming/data/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.appendBodies = append(f.appendBodies, string(body))
		f.appendParams = append(f.appendParams, map[string]string{
			"continuationToken": r.URL.Query().Get("continuationToken"),
			"offsetToken":       r.URL.Query().Get("offsetToken"),
		})
		f.appendHeaders = append(f.appendHeaders, r.Header.Clone())
		status := f.appendStatus
		f.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, "append rejected")
			return
		}
		next := f.continuation.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"next_continuation_token": fmt.Sprintf("cont-%d", next),
		})
	})

	mux.HandleFunc("POST /v2/streaming/databases/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChannelNames []string `json:"channel_names"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		statuses := map[string]any{}
		for _, name := range req.ChannelNames {
			statuses[name] = map[string]any{
				"committed_offset_token": fmt.Sprint(f.committedOffset.Load()),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"channel_statuses": statuses})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeIngest) *Client {
	t.Helper()
	ts, err := snowauth.NewStaticTokenSource("pat-secret")
	require.NoError(t, err)

	c, err := NewClient(Config{
		ControlHost: f.srv.URL,
		Database:    "DEMO",
		Schema:      "PUBLIC",
		Pipe:        "MESH_PIPE",
		ChannelName: "TEST_CHNL",
	}, ts, nopObs{}, f.srv.Client())
	require.NoError(t, err)
	return c
}

func TestClientOpenAdoptsServerState(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)

	require.NoError(t, c.Open(context.Background()))

	assert.Equal(t, int64(41), c.Offset())
	assert.True(t, strings.HasPrefix(c.ChannelName(), "TEST_CHNL_"))
}

func TestClientDiscoverHostBareText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ingest.example.com\n")
	}))
	defer srv.Close()

	ts, err := snowauth.NewStaticTokenSource("pat")
	require.NoError(t, err)
	c, err := NewClient(Config{
		ControlHost: srv.URL,
		Database:    "D", Schema: "S", Pipe: "P",
	}, ts, nopObs{}, srv.Client())
	require.NoError(t, err)

	host, err := c.DiscoverHost(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ingest.example.com", host)
}

func TestClientAppendAdvancesTokens(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))

	from := "!abcd1234"
	batch := []*domain.Reading{
		{Kind: domain.KindText, FromID: from},
		{Kind: domain.KindText, FromID: from},
	}
	require.NoError(t, c.Append(context.Background(), batch))
	require.NoError(t, c.Append(context.Background(), batch[:1]))

	bodies, params, headers := f.appends()
	require.Len(t, params, 2)
	assert.Equal(t, "cont-1", params[0]["continuationToken"])
	assert.Equal(t, "42", params[0]["offsetToken"])
	assert.Equal(t, "cont-2", params[1]["continuationToken"])
	assert.Equal(t, "43", params[1]["offsetToken"])
	assert.Equal(t, int64(43), c.Offset())

	// NDJSON: one object per line, no trailing newline
	lines := strings.Split(bodies[0], "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		assert.Equal(t, from, row["from_id"])
	}

	hdr := headers[0]
	assert.Equal(t, "Bearer pat-secret", hdr.Get("Authorization"))
	assert.Equal(t, "PROGRAMMATIC_ACCESS_TOKEN", hdr.Get("X-Snowflake-Authorization-Token-Type"))
	assert.Equal(t, "application/x-ndjson", hdr.Get("Content-Type"))

	st := c.Stats()
	assert.Equal(t, uint64(3), st.RowsSent)
	assert.Equal(t, uint64(2), st.BatchesSent)
	assert.Equal(t, uint64(0), st.Errors)
}

func TestClientAppendEmptyBatchIsNoop(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))

	require.NoError(t, c.Append(context.Background(), nil))
	bodies, _, _ := f.appends()
	assert.Empty(t, bodies)
}

func TestClientAppendBeforeOpenFails(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)

	err := c.Append(context.Background(), []*domain.Reading{{Kind: domain.KindRaw}})
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestClientAppendFailureKeepsSessionState(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))

	f.setAppendStatus(http.StatusServiceUnavailable)
	err := c.Append(context.Background(), []*domain.Reading{{Kind: domain.KindRaw}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int64(41), c.Offset(), "offset must not advance on failure")
	assert.Equal(t, uint64(1), c.Stats().Errors)

	// the session is still usable with the last good tokens
	f.setAppendStatus(http.StatusOK)
	require.NoError(t, c.Append(context.Background(), []*domain.Reading{{Kind: domain.KindRaw}}))
	_, params, _ := f.appends()
	assert.Equal(t, "cont-1", params[1]["continuationToken"])
	assert.Equal(t, "42", params[1]["offsetToken"])
	assert.Equal(t, int64(42), c.Offset())
}

func TestClientAppendAuthFailureDropsToken(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))

	f.setAppendStatus(http.StatusUnauthorized)
	err := c.Append(context.Background(), []*domain.Reading{{Kind: domain.KindRaw}})
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.False(t, IsTransient(err))
	assert.False(t, c.token.Valid(time.Now(), 0), "cached credential must be discarded")
}

func TestClientStatusAndWaitForCommit(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))

	f.committedOffset.Store(41)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(41), st.CommittedOffset)

	assert.False(t, c.WaitForCommit(context.Background(), 42, 50*time.Millisecond, 10*time.Millisecond))

	f.committedOffset.Store(42)
	assert.True(t, c.WaitForCommit(context.Background(), 42, time.Second, 10*time.Millisecond))
}

func TestClientCloseIsAdvisory(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close())
}

func TestParseOffsetFormats(t *testing.T) {
	cases := map[string]int64{
		`"17"`: 17,
		`17`:   17,
		`null`: 0,
		``:     0,
		`"x"`:  0,
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseOffset(json.RawMessage(raw)), "raw=%s", raw)
	}
}

type nopObs struct{}

func (nopObs) LogDebug(string, ...ports.Field)        {}
func (nopObs) LogInfo(string, ...ports.Field)         {}
func (nopObs) LogWarn(string, ...ports.Field)         {}
func (nopObs) LogError(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)             {}
func (nopObs) SetGauge(string, float64)               {}
func (nopObs) ObserveLatency(string, float64)         {}
