// Package snowpipe implements the Snowpipe Streaming v2 REST protocol: host
// discovery, channel lifecycle, and the ordered, token-gated row append. It
// is the only path rows take into Snowflake; there are no SQL inserts
// anywhere in the pipeline.
package snowpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/observability"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// tokenLeeway is how long before its expiry a cached credential is treated
// as stale, so refresh happens before a failed append rather than after.
const tokenLeeway = time.Minute

// Config identifies the ingest target. ControlHost defaults to the
// account's snowflakecomputing.com endpoint and exists so tests can point
// the client at a local server.
type Config struct {
	Account     string
	Database    string
	Schema      string
	Pipe        string
	ChannelName string // base name; a per-process suffix is appended

	ControlHost    string
	RequestTimeout time.Duration
}

// Stats are cumulative session counters, updated on each append.
type Stats struct {
	RowsSent    uint64
	BatchesSent uint64
	BytesSent   uint64
	Errors      uint64
	StartedAt   time.Time
}

// ChannelStatus is the server-side view of the channel.
type ChannelStatus struct {
	CommittedOffset int64
}

// Client owns the network session to the ingest endpoint. All protocol
// state (ingest host, continuation token, offset token, cached credential)
// is mutated only by the single batching worker, so no lock guards it; the
// stats are read by the metrics loop and are mutex-protected.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  ports.TokenSource
	obs     ports.Observability
	channel string

	controlHost  string
	ingestHost   string
	continuation string
	offset       int64
	token        ports.Token

	statsMu sync.Mutex
	stats   Stats
}

func NewClient(cfg Config, tokens ports.TokenSource, obs ports.Observability, httpClient *http.Client) (*Client, error) {
	if cfg.Account == "" && cfg.ControlHost == "" {
		return nil, fmt.Errorf("snowpipe: account or control host is required")
	}
	if cfg.Database == "" || cfg.Schema == "" || cfg.Pipe == "" {
		return nil, fmt.Errorf("snowpipe: database, schema and pipe are required")
	}

	controlHost := cfg.ControlHost
	if controlHost == "" {
		controlHost = fmt.Sprintf("https://%s.snowflakecomputing.com", strings.ToLower(cfg.Account))
	}
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	base := cfg.ChannelName
	if base == "" {
		base = "MESH_CHNL"
	}
	// One channel per process lifetime. The timestamp keeps channel names
	// readable in the server console, the uuid fragment keeps two processes
	// started in the same second apart.
	channel := fmt.Sprintf("%s_%s_%s", base,
		time.Now().UTC().Format("20060102_150405"),
		strings.ToUpper(uuid.NewString()[:8]))

	return &Client{
		cfg:         cfg,
		http:        httpClient,
		tokens:      tokens,
		obs:         obs,
		channel:     channel,
		controlHost: controlHost,
		stats:       Stats{StartedAt: time.Now()},
	}, nil
}

// ChannelName returns the per-process channel identifier.
func (c *Client) ChannelName() string { return c.channel }

func (c *Client) Name() string { return "snowpipe-streaming" }

// Open resolves the ingest host and opens the channel. It must succeed
// before any append; failures here are fatal to startup.
func (c *Client) Open(ctx context.Context) error {
	if _, err := c.DiscoverHost(ctx); err != nil {
		return err
	}
	return c.OpenChannel(ctx)
}

// DiscoverHost resolves the ingestion endpoint hostname from the control
// endpoint. The result is cached; call it again only after a fatal
// connectivity failure.
func (c *Client) DiscoverHost(ctx context.Context) (string, error) {
	if c.ingestHost != "" {
		return c.ingestHost, nil
	}

	body, _, err := c.do(ctx, http.MethodGet, c.controlHost+"/v2/streaming/hostname", nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("discover ingest host: %w", err)
	}

	host := parseHostname(body)
	if host == "" {
		return "", &ProtocolError{Op: "discover ingest host", Detail: "no hostname in response"}
	}

	c.ingestHost = host
	c.obs.LogInfo("ingest host discovered", ports.Field{Key: "host", Value: host})
	return host, nil
}

// OpenChannel requests the named channel and adopts the server's initial
// continuation token and last committed offset. A missing continuation
// token is logged as a warning but does not fail the open: the server
// contract is assumed non-strict here.
func (c *Client) OpenChannel(ctx context.Context) error {
	if c.ingestHost == "" {
		if _, err := c.DiscoverHost(ctx); err != nil {
			return err
		}
	}

	url := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s/channels/%s",
		c.ingestBase(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe, c.channel)

	body, _, err := c.do(ctx, http.MethodPut, url, nil, strings.NewReader("{}"), "application/json")
	if err != nil {
		return fmt.Errorf("open channel %s: %w", c.channel, err)
	}

	var resp struct {
		NextContinuationToken string `json:"next_continuation_token"`
		ChannelStatus         struct {
			LastCommittedOffsetToken json.RawMessage `json:"last_committed_offset_token"`
		} `json:"channel_status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &ProtocolError{Op: "open channel", Detail: fmt.Sprintf("decode response: %v", err)}
	}

	c.continuation = resp.NextContinuationToken
	c.offset = parseOffset(resp.ChannelStatus.LastCommittedOffsetToken)

	if c.continuation == "" {
		c.obs.LogWarn("no continuation token in open response",
			ports.Field{Key: "channel", Value: c.channel})
	}
	c.obs.LogInfo("channel opened",
		ports.Field{Key: "channel", Value: c.channel},
		ports.Field{Key: "offset", Value: c.offset})
	return nil
}

// Append ships one batch as newline-delimited JSON, one object per reading,
// gated by the current continuation token and the next offset. On success
// the continuation token rotates (the prior one is invalid from that point)
// and the offset advances by exactly one; on failure both are left at their
// last known good values so the next batch still has a usable session.
func (c *Client) Append(ctx context.Context, batch []*domain.Reading) error {
	if len(batch) == 0 {
		return nil
	}
	if c.ingestHost == "" || c.continuation == "" {
		return &ProtocolError{Op: "append", Detail: "channel not opened"}
	}

	payload, err := encodeNDJSON(batch)
	if err != nil {
		c.countError()
		return &ProtocolError{Op: "append", Detail: fmt.Sprintf("encode batch: %v", err)}
	}

	// One offset per append call, not per row: batches are opaque units to
	// the offset protocol.
	newOffset := c.offset + 1

	url := fmt.Sprintf("%s/v2/streaming/data/databases/%s/schemas/%s/pipes/%s/channels/%s/rows",
		c.ingestBase(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe, c.channel)
	params := map[string]string{
		"continuationToken": c.continuation,
		"offsetToken":       strconv.FormatInt(newOffset, 10),
	}

	body, _, err := c.do(ctx, http.MethodPost, url, params, bytes.NewReader(payload), "application/x-ndjson")
	if err != nil {
		c.countError()
		if IsAuth(err) {
			// force a refresh before the next attempt
			c.token = ports.Token{}
		}
		return fmt.Errorf("append %d rows: %w", len(batch), err)
	}

	var resp struct {
		NextContinuationToken string `json:"next_continuation_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.countError()
		return &ProtocolError{Op: "append", Detail: fmt.Sprintf("decode response: %v", err)}
	}

	if resp.NextContinuationToken == "" {
		c.obs.LogWarn("no continuation token in append response",
			ports.Field{Key: "channel", Value: c.channel})
	} else {
		c.continuation = resp.NextContinuationToken
	}
	c.offset = newOffset

	c.statsMu.Lock()
	c.stats.RowsSent += uint64(len(batch))
	c.stats.BatchesSent++
	c.stats.BytesSent += uint64(len(payload))
	c.statsMu.Unlock()

	c.obs.IncCounter(observability.MetricSent, float64(len(batch)))
	c.obs.IncCounter(observability.MetricBatches, 1)
	c.obs.IncCounter(observability.MetricBytesSent, float64(len(payload)))
	c.obs.LogDebug("batch appended",
		ports.Field{Key: "rows", Value: len(batch)},
		ports.Field{Key: "offset", Value: newOffset})
	return nil
}

// Status queries the server's committed offset for this channel.
func (c *Client) Status(ctx context.Context) (ChannelStatus, error) {
	if c.ingestHost == "" {
		return ChannelStatus{}, &ProtocolError{Op: "channel status", Detail: "ingest host not discovered"}
	}

	url := fmt.Sprintf("%s/v2/streaming/databases/%s/schemas/%s/pipes/%s:bulk-channel-status",
		c.ingestBase(), c.cfg.Database, c.cfg.Schema, c.cfg.Pipe)

	reqBody, _ := json.Marshal(map[string][]string{"channel_names": {c.channel}})
	body, _, err := c.do(ctx, http.MethodPost, url, nil, bytes.NewReader(reqBody), "application/json")
	if err != nil {
		return ChannelStatus{}, fmt.Errorf("channel status: %w", err)
	}

	var resp struct {
		ChannelStatuses map[string]struct {
			CommittedOffsetToken json.RawMessage `json:"committed_offset_token"`
		} `json:"channel_statuses"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChannelStatus{}, &ProtocolError{Op: "channel status", Detail: fmt.Sprintf("decode response: %v", err)}
	}

	st, ok := resp.ChannelStatuses[c.channel]
	if !ok {
		return ChannelStatus{}, &ProtocolError{Op: "channel status", Detail: "channel missing from response"}
	}
	return ChannelStatus{CommittedOffset: parseOffset(st.CommittedOffsetToken)}, nil
}

// WaitForCommit polls the committed offset until it reaches expected or the
// timeout elapses. A timeout means unconfirmed, not failed.
func (c *Client) WaitForCommit(ctx context.Context, expected int64, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		st, err := c.Status(ctx)
		if err != nil {
			c.obs.LogWarn("commit poll failed", ports.Field{Key: "error", Value: err.Error()})
		} else if st.CommittedOffset >= expected {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
	return false
}

// Close is advisory: the server expires the channel after inactivity, so no
// network call is made and Close never fails.
func (c *Client) Close() error {
	c.obs.LogInfo("channel left to expire server-side",
		ports.Field{Key: "channel", Value: c.channel})
	return nil
}

// Offset returns the client-owned offset counter.
func (c *Client) Offset() int64 { return c.offset }

// Stats returns a snapshot of the session counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Client) countError() {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
	c.obs.IncCounter(observability.MetricAppendErrors, 1)
}

// ensureToken returns a credential that is valid now and for at least the
// leeway window, refreshing through the token source when needed.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token.Valid(time.Now(), tokenLeeway) {
		return nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	c.token = tok
	c.obs.LogDebug("bearer token refreshed",
		ports.Field{Key: "expiry", Value: tok.Expiry})
	return nil
}

// do issues one authenticated request and returns the response body, mapping
// transport failures and non-2xx statuses onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, url string, params map[string]string, body io.Reader, contentType string) ([]byte, int, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, &ProtocolError{Op: method + " " + url, Detail: err.Error()}
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	req.Header.Set("Authorization", "Bearer "+c.token.Value)
	for k, v := range c.token.HeaderHint {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransientError{Op: method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, &TransientError{Op: method + " " + req.URL.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, classifyStatus(method+" "+req.URL.Path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, resp.StatusCode, nil
}

// ingestBase accepts both a bare hostname, the usual form of the discovery
// response, and a hostname carrying an explicit scheme.
func (c *Client) ingestBase() string {
	if strings.Contains(c.ingestHost, "://") {
		return c.ingestHost
	}
	return "https://" + c.ingestHost
}

// parseHostname accepts both the JSON and the bare-text form of the
// /hostname response.
func parseHostname(body []byte) string {
	var resp struct {
		Hostname   string `json:"hostname"`
		IngestHost string `json:"ingest_host"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.Hostname != "" {
			return resp.Hostname
		}
		if resp.IngestHost != "" {
			return resp.IngestHost
		}
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`)
}

// parseOffset reads an offset token that servers variously encode as a JSON
// number, a quoted number, or null.
func parseOffset(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func encodeNDJSON(batch []*domain.Reading) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range batch {
		if i > 0 {
			buf.WriteByte('\n')
		}
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

var _ ports.Sink = (*Client)(nil)
