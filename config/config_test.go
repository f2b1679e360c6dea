package config

import (
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlayer/ipfixcore/ipfix"
)

func TestBindFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := BindFlags(fs)
	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, uint(1), cfg.DefaultSampling)
	assert.Equal(t, uint(0), cfg.OverwriteSampling)
	assert.Equal(t, "memory://", cfg.StateURL)
}

func TestLoadMappingDisablesNamedExtension(t *testing.T) {
	r := strings.NewReader("mac: false\nnat: false\n")
	m, err := LoadMapping(r)
	require.NoError(t, err)

	enabledExt := m.Compile()
	assert.False(t, enabledExt[ipfix.ExtMAC])
	assert.False(t, enabledExt[ipfix.ExtNAT])
	assert.True(t, enabledExt[ipfix.ExtAS])
	assert.True(t, enabledExt[ipfix.ExtReceived])
}

func TestNilMappingEnablesEverything(t *testing.T) {
	var m *ExtensionMapping
	assert.Nil(t, m.Compile())
}
