package pg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateRequiresConnectionString(t *testing.T) {
	_, err := Config{}.Validate()
	require.ErrorIs(t, err, errConnectionStringNotProvided)
}

func TestConfig_ValidateDefaultsPingQuery(t *testing.T) {
	cfg, err := Config{ConnectionString: "postgres://localhost/tracker"}.Validate()
	require.NoError(t, err)
	require.Equal(t, defaultPingQuery, cfg.PingQuery)
}

func TestConfig_ValidateKeepsExplicitPingQuery(t *testing.T) {
	cfg, err := Config{ConnectionString: "postgres://localhost/tracker", PingQuery: "SELECT 2"}.Validate()
	require.NoError(t, err)
	require.Equal(t, "SELECT 2", cfg.PingQuery)
}

func TestTableFor_UnknownContextErrors(t *testing.T) {
	_, _, err := tableFor("bogus")
	require.Error(t, err)
}

func TestKeyArg_KeysContextUsesString(t *testing.T) {
	v, ok := keyArg("keys", "abc").(string)
	require.True(t, ok)
	require.Equal(t, "abc", v)
}

func TestKeyArg_OtherContextsUseBytes(t *testing.T) {
	v, ok := keyArg("whitelist", "abc").([]byte)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), v)
}
