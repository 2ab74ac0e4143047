package transport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, datagrams ...[]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.bin")

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	for _, datagram := range datagrams {
		require.NoError(t, WriteCaptureRecord(file, datagram))
	}

	return path
}

func Test_Replay_ReadSome(t *testing.T) {
	assert := assert.New(t)

	datagrams := [][]byte{
		{0x01},
		{0x02, 0x03},
		{0x04, 0x05, 0x06},
	}

	cfg := NewReplayConfig()
	cfg.Path = writeCapture(t, datagrams...)

	replay, err := NewReplay(cfg)
	require.NoError(t, err)
	defer replay.Close()

	for _, datagram := range datagrams {
		assert.NoError(replay.ReadSome())
		assert.Equal(datagram, replay.ReceiveBuffer().Bytes())
	}

	// The end of the capture closes the transport.
	assert.ErrorIs(replay.ReadSome(), ErrClosed)
}

func Test_Replay_ReadOnly(t *testing.T) {
	assert := assert.New(t)

	cfg := NewReplayConfig()
	cfg.Path = writeCapture(t, []byte{0x01})

	replay, err := NewReplay(cfg)
	require.NoError(t, err)
	defer replay.Close()

	replay.ReserveSendBuffer().AppendByte(0x01)
	assert.ErrorIs(replay.WriteSome(), ErrReadOnly)
}

func Test_Replay_PartialRecord(t *testing.T) {
	assert := assert.New(t)

	cfg := NewReplayConfig()
	cfg.Path = writeCapture(t, []byte{0x01})

	// Append a truncated record: the length prefix promises more
	// bytes than the capture holds.
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = file.Write([]byte{0, 0, 0, 4, 0xAA, 0xBB})
	require.NoError(t, err)
	require.NoError(t, file.Close())

	replay, err := NewReplay(cfg)
	require.NoError(t, err)
	defer replay.Close()

	assert.NoError(replay.ReadSome())
	assert.Equal([]byte{0x01}, replay.ReceiveBuffer().Bytes())

	// The truncated record does not replay.
	assert.ErrorIs(replay.ReadSome(), ErrClosed)

	// Completing the record makes it replayable, the reader rewound
	// to its start.
	file, err = os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = file.Write([]byte{0xCC, 0xDD})
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.NoError(replay.ReadSome())
	assert.Equal([]byte{0xAA, 0xBB, 0xCC, 0xDD}, replay.ReceiveBuffer().Bytes())
}

func Test_Replay_Follow(t *testing.T) {
	assert := assert.New(t)

	cfg := NewReplayConfig()
	cfg.Path = writeCapture(t, []byte{0x01})
	cfg.Follow = true

	replay, err := NewReplay(cfg)
	require.NoError(t, err)
	defer replay.Close()

	replay.SetReadTimeout(100 * time.Millisecond)

	assert.NoError(replay.ReadSome())
	assert.Equal([]byte{0x01}, replay.ReceiveBuffer().Bytes())

	// Nothing appended yet, the read times out instead of closing.
	assert.ErrorIs(replay.ReadSome(), ErrReadTimeout)

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, WriteCaptureRecord(file, []byte{0x02, 0x03}))
	require.NoError(t, file.Close())

	assert.NoError(replay.ReadSome())
	assert.Equal([]byte{0x02, 0x03}, replay.ReceiveBuffer().Bytes())
}
