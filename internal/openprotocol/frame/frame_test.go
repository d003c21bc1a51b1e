package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		mid       string
		payload   []byte
		expectAck bool
	}{
		{"heartbeat", "9999", nil, false},
		{"select-job", "0034", []byte("0042"), true},
		{"result", "0061", []byte("00000000010001234000090" + "11"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.mid, tc.payload, tc.expectAck)
			require.NoError(t, err)

			consumed, fr, err := Decode(wire)
			require.NoError(t, err)
			require.NotNil(t, fr)
			require.Equal(t, len(wire), consumed)
			require.Equal(t, tc.mid, fr.Header.MID)
			require.Equal(t, !tc.expectAck, fr.Header.NoAck)
			require.Equal(t, tc.payload, fr.Payload)
		})
	}
}

func TestDecodeWaitsForMoreData(t *testing.T) {
	wire, err := Encode("0041", []byte("1111"), true)
	require.NoError(t, err)

	consumed, fr, err := Decode(wire[:10])
	require.NoError(t, err)
	require.Nil(t, fr)
	require.Equal(t, 0, consumed)
}

func TestDecodeInvalidLengthResyncsOneByte(t *testing.T) {
	buf := []byte("abcd" + "rest-of-garbage")
	consumed, fr, err := Decode(buf)
	require.Nil(t, fr)
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, InvalidLength, fe.Type)
	require.Equal(t, 1, consumed)
}

func TestDecodeLengthOutOfRangeResyncsOneByte(t *testing.T) {
	buf := []byte("0005" + "garbage-tail-data")
	consumed, fr, err := Decode(buf)
	require.Nil(t, fr)
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, LengthOutOfRange, fe.Type)
	require.Equal(t, 1, consumed)
}

func TestDecodeMinimumLengthFrameHasEmptyPayload(t *testing.T) {
	// length=20 total => body is exactly the 16-byte header, no payload.
	// 20 is the spec's documented minimum total length, so this is the
	// shortest frame Decode ever accepts.
	buf := []byte("0020" + "004100100101    " + "trailing-data-here")
	consumed, fr, err := Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, fr)
	require.Equal(t, 20, consumed)
	require.Empty(t, fr.Payload)
}

func TestResyncRecoversExactlyOneFrame(t *testing.T) {
	garbage := []byte("xyz!@#not-a-frame")
	wire, err := Encode("0041", []byte("0000"), true)
	require.NoError(t, err)

	buf := append(append([]byte{}, garbage...), wire...)

	frameErrors := 0
	var got *Frame
	for len(buf) > 0 {
		consumed, fr, err := Decode(buf)
		if err != nil {
			frameErrors++
			buf = buf[consumed:]
			continue
		}
		if fr == nil {
			break
		}
		got = fr
		buf = buf[consumed:]
	}
	require.NotNil(t, got)
	require.Equal(t, "0041", got.Header.MID)
	require.LessOrEqual(t, frameErrors, len(garbage))
}

func TestStripNULs(t *testing.T) {
	in := []byte("00\x0020\x000041001001010    0000")
	out := StripNULs(in)
	for _, b := range out {
		require.NotEqual(t, byte(0), b)
	}
}

func TestEncodeRejectsBadMIDLength(t *testing.T) {
	_, err := Encode("61", nil, true)
	require.Error(t, err)
}
