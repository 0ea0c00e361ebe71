package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetEvaluateFlags restores defaults and clears Changed so required-flag
// checks run again on the next Execute.
func resetEvaluateFlags(t *testing.T) {
	t.Helper()
	evaluateCmd.Flags().VisitAll(func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})
}

func runEvaluateArgs(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	resetEvaluateFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"evaluate"}, args...))
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got, nil
}

func TestEvaluateCommandRatchetsTrailingStop(t *testing.T) {
	got, err := runEvaluateArgs(t, "--price", "120", "--entry", "100", "--high", "110", "--trailing-pct", "5")
	require.NoError(t, err)

	assert.Equal(t, false, got["triggered"])
	assert.Nil(t, got["trigger_type"])
	assert.Equal(t, "120", got["new_high"])
	assert.Equal(t, "114", got["new_stop_loss"])
}

func TestEvaluateCommandStopLoss(t *testing.T) {
	got, err := runEvaluateArgs(t, "--price", "114", "--entry", "100", "--high", "120", "--stop-loss", "114", "--trailing-pct", "5")
	require.NoError(t, err)

	assert.Equal(t, true, got["triggered"])
	assert.Equal(t, "STOP_LOSS", got["trigger_type"])
	assert.Nil(t, got["new_high"])
}

func TestEvaluateCommandNoTrigger(t *testing.T) {
	got, err := runEvaluateArgs(t, "--price", "101", "--entry", "100", "--stop-loss", "95", "--take-profit", "110")
	require.NoError(t, err)

	assert.Equal(t, false, got["triggered"])
	assert.Nil(t, got["trigger_type"])
}

func TestEvaluateCommandRejectsBadNumber(t *testing.T) {
	_, err := runEvaluateArgs(t, "--price", "abc", "--entry", "100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--price")
}

func TestEvaluateCommandRequiresEntry(t *testing.T) {
	// A full run first, so the flags carry state into the next one.
	_, err := runEvaluateArgs(t, "--price", "101", "--entry", "100")
	require.NoError(t, err)

	_, err = runEvaluateArgs(t, "--price", "101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "entry" not set`)
}
