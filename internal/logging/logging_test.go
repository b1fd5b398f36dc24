package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	log, closer := New(Config{Level: "bogus"})
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestNewFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wager.log")
	log, closer := New(Config{Level: "debug", Format: "JSON", File: path})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	Component(log, "settle").WithField("family", "coinflip").Info("settled")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"settle"`)
	assert.Contains(t, string(raw), `"family":"coinflip"`)
}
