// Package stomp carries STOMP 1.2 frames over WebSocket text messages, one
// frame per message, and names the fixed chat destinations.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	// Endpoint is the WebSocket path of the STOMP broker.
	Endpoint = "/ws-stomp"
	// PublishDestination receives outbound chat envelopes.
	PublishDestination = "/pub/chat/message"

	roomTopicPrefix = "/sub/chat/room/"

	Version             = "1.2"
	HeaderAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
)

var ErrEmptyFrame = errors.New("stomp: empty frame")

// RoomTopic returns the subscription destination for a room.
func RoomTopic(roomID int64) string {
	return roomTopicPrefix + strconv.FormatInt(roomID, 10)
}

// ParseRoomTopic extracts the room id from a room destination.
func ParseRoomTopic(destination string) (int64, bool) {
	raw, ok := strings.CutPrefix(destination, roomTopicPrefix)
	if !ok {
		return 0, false
	}
	roomID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || roomID <= 0 {
		return 0, false
	}
	return roomID, true
}

// Encode renders a frame into the payload of one WebSocket text message.
// A nil frame encodes as a heart-beat.
func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", commandOf(f), err)
	}
	return buf.Bytes(), nil
}

// Decode parses the payload of one WebSocket message. Heart-beats decode as
// a nil frame with a nil error.
func Decode(data []byte) (*frame.Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFrame
		}
		return nil, fmt.Errorf("stomp: decode: %w", err)
	}
	return f, nil
}

func commandOf(f *frame.Frame) string {
	if f == nil {
		return "heart-beat"
	}
	return f.Command
}

func withBody(f *frame.Frame, body []byte) *frame.Frame {
	if len(body) > 0 {
		f.Header.Set(frame.ContentType, contentTypeJSON)
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(body)))
		f.Body = body
	}
	return f
}

// Connect builds the CONNECT frame carrying the bearer credential.
func Connect(host, token string) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, Version,
		frame.Host, host,
		frame.HeartBeat, "0,0",
	)
	if token != "" {
		f.Header.Set(HeaderAuthorization, "Bearer "+token)
	}
	return f
}

func Connected(session string) *frame.Frame {
	return frame.New(frame.CONNECTED,
		frame.Version, Version,
		frame.Session, session,
		frame.HeartBeat, "0,0",
	)
}

func Subscribe(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

func Unsubscribe(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

func Send(destination string, body []byte) *frame.Frame {
	return withBody(frame.New(frame.SEND, frame.Destination, destination), body)
}

func Message(destination, subscription, messageID string, body []byte) *frame.Frame {
	return withBody(frame.New(frame.MESSAGE,
		frame.Destination, destination,
		frame.Subscription, subscription,
		frame.MessageId, messageID,
	), body)
}

func Disconnect(receipt string) *frame.Frame {
	return frame.New(frame.DISCONNECT, frame.Receipt, receipt)
}

func Receipt(receiptID string) *frame.Frame {
	return frame.New(frame.RECEIPT, frame.ReceiptId, receiptID)
}

func Error(message string) *frame.Frame {
	return frame.New(frame.ERROR, frame.Message, message)
}

// BearerToken returns the credential from a CONNECT frame's Authorization
// header, or "" when absent.
func BearerToken(f *frame.Frame) string {
	value := f.Header.Get(HeaderAuthorization)
	if value == "" {
		value = f.Header.Get(strings.ToLower(HeaderAuthorization))
	}
	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
