package memsink

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlayer/ipfixcore/ipfix"
)

func TestCheckBufferSpaceAndAppend(t *testing.T) {
	s := New(16, nil)
	require.True(t, s.CheckBufferSpace(10))
	require.NoError(t, s.Append(make([]byte, 10)))
	assert.False(t, s.CheckBufferSpace(10))
	assert.Error(t, s.Append(make([]byte, 10)))
	assert.Equal(t, 1, s.NumRecords())
}

func TestFlushResetsBlock(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.Append([]byte{1, 2, 3}))
	b := s.Flush()
	assert.Equal(t, 1, b.NumRecords)
	assert.Equal(t, 0, s.NumRecords())
}

func TestAssignSysIDIncrements(t *testing.T) {
	s := New(0, nil)
	assert.Equal(t, uint32(1), s.AssignSysID())
	assert.Equal(t, uint32(2), s.AssignSysID())
}

func TestAddExtensionMapRegistersOnceUntilDirty(t *testing.T) {
	s := New(0, nil)
	tmpl, err := ipfix.CompileTemplate(256, []ipfix.TemplateField{
		{ElementID: 150, Length: 4},
		{ElementID: 151, Length: 4},
	}, false, nil, time.Now(), nil)
	require.NoError(t, err)

	id1 := s.AddExtensionMap(tmpl.ExtensionMap())
	id2 := s.AddExtensionMap(tmpl.ExtensionMap())
	assert.Equal(t, id1, id2)
	assert.Contains(t, s.block.ExtensionMaps, id1)
}

func TestFlushInfoCallbacksDoNotPanicWithoutLogger(t *testing.T) {
	s := New(0, nil)
	assert.NotPanics(t, func() {
		s.FlushInfoExporter(net.ParseIP("127.0.0.1"), 1, 1)
		s.FlushInfoSampler(1, -1, 0, 1000)
	})
}
