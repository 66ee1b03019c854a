package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/reminder"
)

func TestFingerprintCommandMatchesReminderTag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"fingerprint", "chat=-100123", "user=42"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, reminder.UserTag(-100123, 42)+"\n", out.String())
}

func TestFingerprintCommandNeedsItems(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"fingerprint"})
	assert.Error(t, rootCmd.Execute())
}
