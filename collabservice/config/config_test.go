package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyalesich/project-manager/collabservice/config"
)

const fullYaml = `
run_mode: "prod"
api_port: "9090"
websocket_port: "9091"
internal_api_token: "svc-token"
auth:
  hmac_secret: "top-secret"
postgres:
  dsn: "postgres://collab:pw@localhost:5432/collab"
redis:
  addr: "localhost:6379"
broker:
  send_queue_size: 128
  max_consecutive_overflows: 5
cors:
  allowed_origins:
    - "https://app.example.com"
`

// clearEnvOverrides blanks the override variables so ambient environment
// state cannot leak into assertions about file-sourced values.
func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"POSTGRES_DSN", "REDIS_ADDR", "AUTH_HMAC_SECRET", "INTERNAL_API_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestParse_FullConfig(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := config.Parse([]byte(fullYaml))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.RunMode)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "9091", cfg.WebSocketPort)
	assert.Equal(t, "svc-token", cfg.InternalAPIToken)
	assert.Equal(t, "top-secret", cfg.Auth.HMACSecret)
	assert.Equal(t, "postgres://collab:pw@localhost:5432/collab", cfg.Postgres.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 128, cfg.Broker.SendQueueSize)
	assert.Equal(t, 5, cfg.Broker.MaxConsecutiveOverflows)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Cors.AllowedOrigins)
}

func TestParse_AppliesDefaults(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := config.Parse([]byte(`
run_mode: "local"
internal_api_token: "svc-token"
auth:
  hmac_secret: "top-secret"
`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "8081", cfg.WebSocketPort)
	assert.Equal(t, 64, cfg.Broker.SendQueueSize)
	assert.Equal(t, 3, cfg.Broker.MaxConsecutiveOverflows)
}

func TestParse_LocalModeSkipsStoreRequirements(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := config.Parse([]byte(`
run_mode: "local"
internal_api_token: "svc-token"
auth:
  hmac_secret: "top-secret"
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestParse_ValidationFailures(t *testing.T) {
	clearEnvOverrides(t)

	cases := map[string]struct {
		yaml    string
		wantErr string
	}{
		"garbage yaml": {
			yaml:    "run_mode: [unclosed",
			wantErr: "unmarshal",
		},
		"no auth source": {
			yaml: `
run_mode: "local"
internal_api_token: "svc-token"
`,
			wantErr: "jwks_url or hmac_secret",
		},
		"both auth sources": {
			yaml: `
run_mode: "local"
internal_api_token: "svc-token"
auth:
  jwks_url: "https://auth.example.com/jwks.json"
  hmac_secret: "top-secret"
`,
			wantErr: "mutually exclusive",
		},
		"missing internal token": {
			yaml: `
run_mode: "local"
auth:
  hmac_secret: "top-secret"
`,
			wantErr: "internal_api_token",
		},
		"prod without postgres": {
			yaml: `
internal_api_token: "svc-token"
auth:
  hmac_secret: "top-secret"
redis:
  addr: "localhost:6379"
`,
			wantErr: "postgres dsn",
		},
		"prod without redis": {
			yaml: `
internal_api_token: "svc-token"
auth:
  hmac_secret: "top-secret"
postgres:
  dsn: "postgres://collab:pw@localhost:5432/collab"
`,
			wantErr: "redis addr",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env-host/collab")
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("AUTH_HMAC_SECRET", "env-secret")
	t.Setenv("INTERNAL_API_TOKEN", "env-token")

	cfg, err := config.Parse([]byte(`
auth:
  hmac_secret: "file-secret"
postgres:
  dsn: "postgres://file-host/collab"
redis:
  addr: "file-redis:6379"
internal_api_token: "file-token"
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/collab", cfg.Postgres.DSN)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Auth.HMACSecret)
	assert.Equal(t, "env-token", cfg.InternalAPIToken)
}
