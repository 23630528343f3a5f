package stomp

import (
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomTopic(t *testing.T) {
	assert.Equal(t, "/sub/chat/room/42", RoomTopic(42))

	tests := []struct {
		name        string
		destination string
		want        int64
		ok          bool
	}{
		{name: "room topic", destination: "/sub/chat/room/42", want: 42, ok: true},
		{name: "publish destination", destination: PublishDestination},
		{name: "non numeric", destination: "/sub/chat/room/abc"},
		{name: "zero", destination: "/sub/chat/room/0"},
		{name: "negative", destination: "/sub/chat/room/-1"},
		{name: "empty id", destination: "/sub/chat/room/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRoomTopic(tt.destination)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendFrameSurvivesTransport(t *testing.T) {
	body := []byte(`{"roomId":42,"senderId":7,"content":"line one\nline two","type":"TEXT"}`)

	data, err := Encode(Send(PublishDestination, body))
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.Equal(t, frame.SEND, decoded.Command)
	assert.Equal(t, PublishDestination, decoded.Header.Get(frame.Destination))
	assert.Equal(t, body, decoded.Body)
}

func TestConnectCarriesBearerToken(t *testing.T) {
	data, err := Encode(Connect("localhost", "secret-token"))
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, frame.CONNECT, decoded.Command)
	assert.Equal(t, "secret-token", BearerToken(decoded))

	anonymous := Connect("localhost", "")
	assert.Empty(t, BearerToken(anonymous))
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}
