package common

import (
	"testing"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCLI(t *testing.T) {
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	err := ConfigureCLI(v, "COMMONTEST", []Flag{
		{Name: "poll-interval", DefValue: 4 * time.Second},
		{Name: "bind-attempts", DefValue: uint(5)},
		{Name: "start-block", DefValue: uint64(0)},
		{Name: "cors-origins", DefValue: "*", Repeatable: true},
	}, cmd)
	require.NoError(t, err)

	t.Setenv("COMMONTEST_BIND_ATTEMPTS", "7")
	require.NoError(t, cmd.Flags().Set("start-block", "42"))
	assert.Equal(t, 4*time.Second, v.GetDuration("poll-interval"))
	assert.Equal(t, uint(7), v.GetUint("bind-attempts"))
	assert.Equal(t, uint64(42), v.GetUint64("start-block"))

	t.Setenv("COMMONTEST_CORS_ORIGINS", "http://a.test, http://b.test,")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, ParseStringSlice(v, "cors-origins"))
}

func TestConfigureCLI_UnsupportedType(t *testing.T) {
	err := ConfigureCLI(viper.New(), "COMMONTEST", []Flag{
		{Name: "ratio", DefValue: 0.5},
	}, &cobra.Command{Use: "test"})
	require.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("COMMONTEST_HOME", "/srv/auctiond")
	v := viper.New()
	v.Set("state-path", "$COMMONTEST_HOME/state.json")
	v.Set("http-addr", ":4001")
	ExpandEnvVars(v, v.AllSettings())
	assert.Equal(t, "/srv/auctiond/state.json", v.GetString("state-path"))
	assert.Equal(t, ":4001", v.GetString("http-addr"))
}

func TestConfigureLogging(t *testing.T) {
	golog.Logger("common/test")
	v := viper.New()
	v.Set("log-levels", "common/test=error")
	require.NoError(t, ConfigureLogging(v, []string{"common/test"}))

	v.Set("log-levels", "common/test")
	require.Error(t, ConfigureLogging(v, []string{"common/test"}))
}
