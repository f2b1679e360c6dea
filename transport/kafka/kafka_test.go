package kafka

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRecordHeaderExtractsExtMapAndSysID(t *testing.T) {
	data := make([]byte, recordHeaderSize+4)
	binary.BigEndian.PutUint16(data[extMapIDOffset:extMapIDOffset+2], 7)
	binary.BigEndian.PutUint32(data[exporterSysOffset:exporterSysOffset+4], 42)

	extMapID, sysID, ok := decodeRecordHeader(data)
	assert.True(t, ok)
	assert.Equal(t, uint16(7), extMapID)
	assert.Equal(t, uint32(42), sysID)
}

func TestDecodeRecordHeaderRejectsShortRecords(t *testing.T) {
	_, _, ok := decodeRecordHeader(make([]byte, recordHeaderSize-1))
	assert.False(t, ok)
}
