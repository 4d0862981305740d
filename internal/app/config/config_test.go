package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
snowflake:
  account: myorg-acct
  database: DEMO
  schema: PUBLIC
  pipe: MESH_PIPE
  pat: pat-secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Batch.Size != 10 {
		t.Errorf("batch size default: want 10, got %d", cfg.Batch.Size)
	}
	if cfg.Batch.FlushInterval.Std() != 5*time.Second {
		t.Errorf("flush interval default: want 5s, got %v", cfg.Batch.FlushInterval)
	}
	if cfg.Batch.PollTimeout.Std() != 500*time.Millisecond {
		t.Errorf("poll timeout default: want 500ms, got %v", cfg.Batch.PollTimeout)
	}
	if cfg.Snowflake.ChannelName != "MESH_CHNL" {
		t.Errorf("channel name default: got %q", cfg.Snowflake.ChannelName)
	}
	if cfg.Snowflake.Role != "PUBLIC" {
		t.Errorf("role default: got %q", cfg.Snowflake.Role)
	}
	if cfg.Snowflake.RequestTimeout.Std() != 30*time.Second {
		t.Errorf("request timeout default: got %v", cfg.Snowflake.RequestTimeout)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("metrics addr default: got %q", cfg.Metrics.Addr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level default: got %q", cfg.Log.Level)
	}
	if cfg.Queue.MaxLen != 0 {
		t.Errorf("queue must default to unbounded, got %d", cfg.Queue.MaxLen)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
snowflake:
  account: myorg-acct
  user: pipeline
  role: ingest
  database: DEMO
  schema: PUBLIC
  pipe: MESH_PIPE
  channel_name: FIELD_CHNL
  private_key_file: /etc/keys/rsa_key.p8
  request_timeout: 10s
batch:
  size: 50
  flush_interval: 2s
  poll_timeout: 100ms
queue:
  max_len: 10000
device:
  replay_file: /var/capture/mesh.jsonl
  replay_delay: 250ms
metrics:
  addr: 127.0.0.1:9200
spool:
  dir: /var/spool/meshpipe
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Snowflake.ChannelName != "FIELD_CHNL" {
		t.Errorf("channel name: got %q", cfg.Snowflake.ChannelName)
	}
	if cfg.Batch.Size != 50 || cfg.Batch.FlushInterval.Std() != 2*time.Second {
		t.Errorf("batch config not honored: %+v", cfg.Batch)
	}
	if cfg.Queue.MaxLen != 10000 {
		t.Errorf("queue max_len: got %d", cfg.Queue.MaxLen)
	}
	if cfg.Device.ReplayDelay.Std() != 250*time.Millisecond {
		t.Errorf("replay delay: got %v", cfg.Device.ReplayDelay)
	}
	if cfg.Spool.Dir != "/var/spool/meshpipe" {
		t.Errorf("spool dir: got %q", cfg.Spool.Dir)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing account",
			yaml: strings.Replace(minimalConfig, "account: myorg-acct", "account: \"\"", 1),
			want: "snowflake.account",
		},
		{
			name: "missing database",
			yaml: strings.Replace(minimalConfig, "database: DEMO", "database: \"\"", 1),
			want: "snowflake.database",
		},
		{
			name: "missing pipe",
			yaml: strings.Replace(minimalConfig, "pipe: MESH_PIPE", "pipe: \"\"", 1),
			want: "snowflake.pipe",
		},
		{
			name: "no credential",
			yaml: strings.Replace(minimalConfig, "pat: pat-secret", "pat: \"\"", 1),
			want: "pat or private_key_file",
		},
		{
			name: "key pair without user",
			yaml: strings.Replace(minimalConfig, "pat: pat-secret", "private_key_file: /k.p8", 1),
			want: "snowflake.user",
		},
		{
			name: "bad batch size",
			yaml: minimalConfig + "batch:\n  size: -1\n",
			want: "batch.size",
		},
		{
			name: "negative queue bound",
			yaml: minimalConfig + "queue:\n  max_len: -5\n",
			want: "queue.max_len",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadControlHostStandsInForAccount(t *testing.T) {
	cfg, err := Load(writeConfig(t, strings.Replace(minimalConfig,
		"account: myorg-acct", "control_host: http://127.0.0.1:8080", 1)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Snowflake.ControlHost == "" {
		t.Fatal("control host not loaded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "snowflake: [broken")); err == nil {
		t.Fatal("expected a parse error")
	}
}
