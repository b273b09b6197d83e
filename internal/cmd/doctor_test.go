package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
	"github.com/CurseForgeCommunity/CFLookup/internal/observability"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "api key shows last 4",
			input: "$2a$10$abcdefghijklmnopqrstuv",
			want:  "****stuv",
		},
		{
			name:  "short secret 4 chars",
			input: "ABCD",
			want:  "****",
		},
		{
			name:  "short secret 3 chars",
			input: "ABC",
			want:  "****",
		},
		{
			name:  "empty stays empty",
			input: "",
			want:  "",
		},
		{
			name:  "5 char secret shows last 4",
			input: "ABCDE",
			want:  "****BCDE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskSecret(tt.input))
		})
	}
}

func TestConfigProblems(t *testing.T) {
	cfg := &config.Config{}
	problems := configProblems(cfg)
	require.Len(t, problems, 3)
	assert.Contains(t, problems[0], "curseforge.api_key")
	assert.Contains(t, problems[1], "redis.addr")
	assert.Contains(t, problems[2], "notify.webhook_url")

	cfg.CurseForge.APIKey = "key"
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.Notify.WebhookURL = "https://discord.com/api/webhooks/1/x"
	assert.Empty(t, configProblems(cfg))
}

func TestPrintConfigHelp(t *testing.T) {
	observability.InitCLILogger("test", false)

	t.Run("does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			printConfigHelp()
		})
	})
}

func TestMaskConfig(t *testing.T) {
	cfg := config.Config{}
	cfg.CurseForge.APIKey = "secret-api-key"
	cfg.Redis.Password = "hunter22"
	cfg.Database.AuthToken = "token-1234"
	cfg.Notify.WebhookURL = "https://discord.com/api/webhooks/1/abcdef"
	cfg.Redis.Addr = "redis:6379"

	masked := maskConfig(cfg)
	assert.Equal(t, "****-key", masked.CurseForge.APIKey)
	assert.Equal(t, "****er22", masked.Redis.Password)
	assert.Equal(t, "****1234", masked.Database.AuthToken)
	assert.Equal(t, "****cdef", masked.Notify.WebhookURL)
	assert.Equal(t, "redis:6379", masked.Redis.Addr)
	assert.Equal(t, "secret-api-key", cfg.CurseForge.APIKey, "input must not be modified")
}

func TestWriteConfigYAML(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 8080
	cfg.Lock.Channel = "LockMessages/CFLookup"
	cfg.Sync.Files.BucketSize = 10_000

	var buf bytes.Buffer
	require.NoError(t, writeConfigYAML(&buf, cfg))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	server := decoded["server"].(map[string]any)
	assert.Equal(t, 8080, server["port"])
	lock := decoded["lock"].(map[string]any)
	assert.Equal(t, "LockMessages/CFLookup", lock["channel"])
	sync := decoded["sync"].(map[string]any)
	files := sync["files"].(map[string]any)
	assert.Equal(t, 10_000, files["bucket_size"])
}
