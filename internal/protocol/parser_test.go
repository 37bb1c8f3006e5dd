package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T, messageID int32, lengthWidth uint16, payload []byte) []byte {
	t.Helper()
	header := uint16(messageID)<<2 | lengthWidth
	var buf bytes.Buffer
	var hb [2]byte
	binary.BigEndian.PutUint16(hb[:], header)
	buf.Write(hb[:])

	switch lengthWidth {
	case 0:
		require.Empty(t, payload)
	case 1:
		require.LessOrEqual(t, len(payload), 0xff)
		buf.WriteByte(byte(len(payload)))
	case 2:
		require.LessOrEqual(t, len(payload), 0xffff)
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(len(payload)))
		buf.Write(lb[:])
	case 3:
		n := len(payload)
		buf.WriteByte(byte(n >> 16))
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(n))
		buf.Write(lb[:])
	}
	buf.Write(payload)
	return buf.Bytes()
}

func buildPriceListPayload(items map[int32]struct {
	Category int32
	Prices   []int64
}) []byte {
	var buf bytes.Buffer
	buf.Write(encodeVarUint(uint64(len(items))))
	for gid, item := range items {
		buf.Write(encodeVarUint(uint64(gid)))
		buf.Write(encodeVarUint(uint64(item.Category)))
		buf.Write(encodeVarUint(uint64(len(item.Prices))))
		for _, p := range item.Prices {
			buf.Write(encodeVarUint(uint64(p)))
		}
	}
	return buf.Bytes()
}

func testParser() *Parser {
	return NewParser(DefaultMessageIDs, 64)
}

func TestParsePriceListThreeQuantities(t *testing.T) {
	payload := buildPriceListPayload(map[int32]struct {
		Category int32
		Prices   []int64
	}{
		289: {Category: 48, Prices: []int64{15000, 140000, 1300000}},
	})
	frame := buildFrame(t, DefaultMessageIDs.PriceList, 2, payload)

	res := testParser().Parse(frame)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Message)
	require.Equal(t, KindPriceList, res.Message.Kind)

	obs := ExtractObservations(res.Message.PriceList)
	require.Len(t, obs, 3)
	assert.Equal(t, PriceObservation{ItemGid: 289, Category: 48, Quantity: 1, Price: 15000, ObservedAt: obs[0].ObservedAt}, obs[0])
	assert.Equal(t, int32(10), obs[1].Quantity)
	assert.Equal(t, int64(140000), obs[1].Price)
	assert.Equal(t, int32(100), obs[2].Quantity)
	assert.Equal(t, int64(1300000), obs[2].Price)
}

func TestParsePriceListZeroPriceSuppressed(t *testing.T) {
	payload := buildPriceListPayload(map[int32]struct {
		Category int32
		Prices   []int64
	}{
		289: {Category: 48, Prices: []int64{15000, 0, 1300000}},
	})
	frame := buildFrame(t, DefaultMessageIDs.PriceList, 2, payload)

	res := testParser().Parse(frame)
	require.NoError(t, res.Err)

	obs := ExtractObservations(res.Message.PriceList)
	require.Len(t, obs, 2)
	assert.Equal(t, int32(1), obs[0].Quantity)
	assert.Equal(t, int32(100), obs[1].Quantity)
}

func TestParseCategoryDescriptionWithAndWithoutText(t *testing.T) {
	p := testParser()

	var withText bytes.Buffer
	withText.Write(encodeVarUint(48))
	withText.Write([]byte{0x00, 0x04, 'f', 'o', 'o', 'd'})
	frame := buildFrame(t, DefaultMessageIDs.CategoryDescription, 1, withText.Bytes())
	res := p.Parse(frame)
	require.NoError(t, res.Err)
	require.Equal(t, KindCategoryDescription, res.Message.Kind)
	assert.True(t, res.Message.CategoryDescription.HasDescription)
	assert.Equal(t, "food", res.Message.CategoryDescription.Description)

	noText := encodeVarUint(48)
	frame2 := buildFrame(t, DefaultMessageIDs.CategoryDescription, 1, noText)
	res2 := p.Parse(frame2)
	require.NoError(t, res2.Err)
	assert.False(t, res2.Message.CategoryDescription.HasDescription)
}

func TestParseUnknownMessageConsumesRemainder(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	frame := buildFrame(t, 4095, 1, payload)
	res := testParser().Parse(frame)
	require.NoError(t, res.Err)
	require.Equal(t, KindUnknown, res.Message.Kind)
	assert.Equal(t, payload, res.Message.Unknown.Payload)
}

func TestParseTruncatedWhenDeclaredLengthExceedsRemaining(t *testing.T) {
	frame := buildFrame(t, DefaultMessageIDs.CategoryDescription, 2, []byte{1, 2, 3})
	// Lie about the length: claim 100 bytes follow when only 3 are present.
	binary.BigEndian.PutUint16(frame[2:4], 100)
	res := testParser().Parse(frame)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTruncated)
}

func TestParseThreeByteLengthWidth(t *testing.T) {
	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := buildFrame(t, 4094, 3, payload)
	res := testParser().Parse(frame)
	require.NoError(t, res.Err)
	assert.Equal(t, KindUnknown, res.Message.Kind)
	assert.Len(t, res.Message.Unknown.Payload, 70000)
}

func TestParseEmptyAndOneBytePacket(t *testing.T) {
	res := testParser().Parse(nil)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTruncated)

	res = testParser().Parse([]byte{0x01})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTruncated)
}

func TestParseCompressedContainerWrapsInnerPriceMessage(t *testing.T) {
	ids := DefaultMessageIDs
	innerPayload := buildPriceListPayload(map[int32]struct {
		Category int32
		Prices   []int64
	}{
		55: {Category: 1, Prices: []int64{99}},
	})
	innerFrame := buildFrame(t, ids.PriceList, 1, innerPayload)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, err := zw.Write(innerFrame)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var containerPayload bytes.Buffer
	containerPayload.Write(encodeVarUint(uint64(zbuf.Len())))
	containerPayload.Write(zbuf.Bytes())

	frame := buildFrame(t, ids.CompressedContainer, 2, containerPayload.Bytes())
	res := testParser().Parse(frame)
	require.NoError(t, res.Err)
	require.Equal(t, KindPriceList, res.Message.Kind)
	assert.Equal(t, int32(55), res.Message.PriceList.Items[0].Gid)
}

func TestParseCompressedContainerBombDetected(t *testing.T) {
	// A stream of zeros compresses extremely well; with a tiny ratio cap
	// the inflated size should exceed the budget.
	big := make([]byte, 1<<16)
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, err := zw.Write(big)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var containerPayload bytes.Buffer
	containerPayload.Write(encodeVarUint(uint64(zbuf.Len())))
	containerPayload.Write(zbuf.Bytes())

	frame := buildFrame(t, DefaultMessageIDs.CompressedContainer, 3, containerPayload.Bytes())
	p := NewParser(DefaultMessageIDs, 2)
	res := p.Parse(frame)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrDecompressionBomb)
}

func TestParseCompressedContainerCorruptStreamIsTruncated(t *testing.T) {
	var containerPayload bytes.Buffer
	garbage := []byte{0x01, 0x02, 0x03, 0x04}
	containerPayload.Write(encodeVarUint(uint64(len(garbage))))
	containerPayload.Write(garbage)

	frame := buildFrame(t, DefaultMessageIDs.CompressedContainer, 1, containerPayload.Bytes())
	res := testParser().Parse(frame)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTruncated)
}
