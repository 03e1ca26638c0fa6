package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("twitch:\n  channels: [xqc]\n"))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "./data/chat_data.json", cfg.Store.Path)
	assert.Equal(t, 50, cfg.Batcher.BatchSize)
	assert.Equal(t, 60, cfg.Batcher.WindowSeconds)
	assert.Equal(t, 5, cfg.Training.MinLabeledMessages)
	assert.Equal(t, 1, cfg.Training.NgramMin)
	assert.Equal(t, 2, cfg.Training.NgramMax)
	assert.Equal(t, 1000, cfg.Training.MaxFeatures)
	assert.Equal(t, "./data/sentiment_model.json", cfg.Model.ArtifactPath)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.S3.Bucket)
}

func TestParseSQLiteDefaultPath(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  backend: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "./data/chat_data.db", cfg.Store.Path)
	assert.Equal(t, 10, cfg.Store.KeepSnapshots)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWITCH_OAUTH", "oauth:secret")
	t.Setenv("STORE_PATH", "/var/lib/chat.json")
	t.Setenv("ARTIFACT_PATH", "/var/lib/model.json")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA")
	t.Setenv("S3_SECRET_ACCESS_KEY", "shh")

	cfg, err := Parse([]byte(`
twitch:
  username: bot
  oauth: from-file
  channels: [xqc]
s3:
  bucket: models
  region: us-east-1
`))
	require.NoError(t, err)
	assert.Equal(t, "oauth:secret", cfg.Twitch.OAuth)
	assert.Equal(t, "/var/lib/chat.json", cfg.Store.Path)
	assert.Equal(t, "/var/lib/model.json", cfg.Model.ArtifactPath)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "AKIA", cfg.S3.AccessKeyID)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"backend":       "store:\n  backend: postgres\n",
		"kick no slugs": "kick:\n  enabled: true\n",
		"kick empty":    "kick:\n  enabled: true\n  channels:\n    - chatroom_id: 5\n",
		"ngram":         "training:\n  ngram_min: 3\n  ngram_max: 2\n",
		"schedule":      "training:\n  schedule: every tuesday\n",
		"s3 region":     "s3:\n  bucket: b\n  role_arn: arn\n",
		"s3 creds":      "s3:\n  bucket: b\n  region: r\n",
		"s3 secret":     "s3:\n  bucket: b\n  region: r\n  access_key_id: k\n",
		"twitch user":   "twitch:\n  oauth: x\n  channels: [a]\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadKickChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kick:
  enabled: true
  channels:
    - slug: paymoneywubby
      chatroom_id: 1234
    - slug: xqc
training:
  schedule: "0 */6 * * *"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []KickChannelConfig{{Slug: "paymoneywubby", ChatroomID: 1234}, {Slug: "xqc"}}, cfg.Kick.Channels)
	assert.Equal(t, "0 */6 * * *", cfg.Training.Schedule)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
