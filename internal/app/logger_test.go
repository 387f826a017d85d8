package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	restore := logger.Replace(logger.Logger())
	t.Cleanup(restore)

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug", LogFormat: "console"}))
	require.NoError(t, ConfigureLogging(ServerConfig{}))
}
