package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidNamespace(t *testing.T) {
	require.True(t, IsValidNamespace("factory-1"))
	require.True(t, IsValidNamespace("a.b_c"))
	require.False(t, IsValidNamespace(""))
	require.False(t, IsValidNamespace("bad/namespace"))
}

func TestTemplatePackAppliesWithNoRangeIsUnconditional(t *testing.T) {
	pc := TemplatePackConfig{Name: "base"}
	ok, err := pc.Applies("2.4.0")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pc.Applies("")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTemplatePackAppliesWithRangeGatesByFirmware(t *testing.T) {
	pc := TemplatePackConfig{Name: "v2", FirmwareRange: "2.0.0-2.99.99"}

	ok, err := pc.Applies("2.4.0")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pc.Applies("1.9.0")
	require.NoError(t, err)
	require.False(t, ok)

	// No declared gateway firmware version disables gating entirely.
	ok, err = pc.Applies("")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTemplatePackAppliesRejectsBadRange(t *testing.T) {
	pc := TemplatePackConfig{Name: "bad", FirmwareRange: "not-a-version"}
	_, err := pc.Applies("1.0.0")
	require.Error(t, err)
}

func TestValidateRejectsInvalidNamespace(t *testing.T) {
	c := &Config{Namespace: "bad namespace!"}
	require.Error(t, c.Validate())
}
