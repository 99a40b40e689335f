package logging

import (
	"testing"

	golog "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels("auctiond/poller=debug, chain = warn,")
	require.NoError(t, err)
	assert.Equal(t, map[string]golog.LogLevel{
		"auctiond/poller": golog.LevelDebug,
		"chain":           golog.LevelWarn,
	}, levels)

	levels, err = ParseLevels("")
	require.NoError(t, err)
	assert.Empty(t, levels)

	_, err = ParseLevels("chain")
	require.Error(t, err)
	_, err = ParseLevels("chain=loud")
	require.Error(t, err)
}

func TestSetLogLevels(t *testing.T) {
	golog.Logger("logging/test")
	require.NoError(t, SetLogLevels(map[string]golog.LogLevel{"logging/test": golog.LevelError}))
	require.NoError(t, SetLogLevels(map[string]golog.LogLevel{"*": golog.LevelInfo}))
	require.Error(t, SetLogLevels(map[string]golog.LogLevel{"logging/missing": golog.LevelInfo}))
}
