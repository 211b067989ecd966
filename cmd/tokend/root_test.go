package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestEnvReplacer(t *testing.T) {
	require.Equal(t, "my_param", envReplacer.Replace("my-param"))

	t.Setenv("TOKEND_CALLER", "alice")
	t.Setenv("TOKEND_MY_PARAM", "value")
	require.Equal(t, "alice", viper.GetString(callerFlagName))
	require.Equal(t, "value", viper.GetString("my-param"))
}
