package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"freight-chat/internal/auth"
	"freight-chat/internal/models"
	"freight-chat/internal/repository"
	"freight-chat/internal/stomp"
	"freight-chat/internal/types"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *httptest.Server
	broker  *Broker
	store   *repository.Memory
	issuer  *auth.Issuer
	shipper int64
	driver  int64
	room    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemory()
	require.NoError(t, repository.SeedDemo(ctx, store, store, "hash"))
	shipper, err := store.GetUserByUsername(ctx, "shipper")
	require.NoError(t, err)
	driver, err := store.GetUserByUsername(ctx, "driver")
	require.NoError(t, err)
	room, err := store.GetOrCreatePersonal(ctx, shipper.ID, driver.ID)
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("test-key", time.Hour)
	require.NoError(t, err)

	b, err := New(Config{Issuer: issuer, Users: store, Rooms: store, Messages: store, RateBurst: 50})
	require.NoError(t, err)
	go b.Run()

	mux := http.NewServeMux()
	mux.HandleFunc(stomp.Endpoint, b.ServeWS)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		b.Shutdown()
	})

	return &testEnv{
		server:  server,
		broker:  b,
		store:   store,
		issuer:  issuer,
		shipper: shipper.ID,
		driver:  driver.ID,
		room:    room,
	}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := e.issuer.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + stomp.Endpoint
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, f *frame.Frame) {
	t.Helper()
	data, err := stomp.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) *frame.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		f, err := stomp.Decode(data)
		require.NoError(t, err)
		if f != nil {
			return f
		}
	}
}

// connect completes the handshake and subscribes to the room.
func (e *testEnv) connect(t *testing.T, userID int64, subscriptionID string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	writeFrame(t, conn, stomp.Connect("localhost", e.token(t, userID)))
	connected := readFrame(t, conn)
	require.Equal(t, frame.CONNECTED, connected.Command)
	assert.Equal(t, stomp.Version, connected.Header.Get(frame.Version))
	writeFrame(t, conn, stomp.Subscribe(subscriptionID, stomp.RoomTopic(e.room)))
	return conn
}

func publish(t *testing.T, conn *websocket.Conn, roomID int64, content string) {
	t.Helper()
	body, err := json.Marshal(types.OutboundMessage{RoomID: roomID, SenderID: 999, Content: content, Type: models.TypeText})
	require.NoError(t, err)
	writeFrame(t, conn, stomp.Send(stomp.PublishDestination, body))
}

func decodeMessage(t *testing.T, f *frame.Frame) models.Message {
	t.Helper()
	require.Equal(t, frame.MESSAGE, f.Command)
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.Body, &msg))
	return msg
}

func TestConnectRequiresValidToken(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"foreign key", func() string {
			other, _ := auth.NewIssuer("other-key", time.Hour)
			token, _ := other.GenerateToken(env.shipper)
			return token
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t)
			writeFrame(t, conn, stomp.Connect("localhost", tt.token))
			f := readFrame(t, conn)
			assert.Equal(t, frame.ERROR, f.Command)
		})
	}
	assert.Zero(t, env.broker.ActiveSessions())
}

func TestPublishIsStampedPersistedAndEchoed(t *testing.T) {
	env := newTestEnv(t)
	shipper := env.connect(t, env.shipper, "sub-shipper")
	driver := env.connect(t, env.driver, "sub-driver")

	require.Eventually(t, func() bool { return env.broker.ActiveSessions() == 2 }, time.Second, 10*time.Millisecond)

	publish(t, shipper, env.room, "  truck arrives at 9  ")

	echo := readFrame(t, shipper)
	assert.Equal(t, "sub-shipper", echo.Header.Get(frame.Subscription))
	assert.Equal(t, stomp.RoomTopic(env.room), echo.Header.Get(frame.Destination))
	own := decodeMessage(t, echo)
	assert.Equal(t, env.shipper, own.SenderID)
	assert.Equal(t, "Hanbit Logistics", own.SenderName)
	assert.Equal(t, "truck arrives at 9", own.Content)
	assert.Positive(t, own.ID)

	delivered := readFrame(t, driver)
	assert.Equal(t, "sub-driver", delivered.Header.Get(frame.Subscription))
	assert.Equal(t, own.ID, decodeMessage(t, delivered).ID)

	stored, _, err := env.store.Fetch(context.Background(), env.room, 0, 30)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, own.ID, stored[0].ID)
}

func TestBroadcastKeepsPublishOrder(t *testing.T) {
	env := newTestEnv(t)
	shipper := env.connect(t, env.shipper, "sub-1")

	contents := []string{"one", "two", "three", "four"}
	for _, content := range contents {
		publish(t, shipper, env.room, content)
	}

	var last int64
	for _, want := range contents {
		msg := decodeMessage(t, readFrame(t, shipper))
		assert.Equal(t, want, msg.Content)
		assert.Greater(t, msg.ID, last)
		last = msg.ID
	}
}

func TestConcurrentSendersAreDeliveredInIDOrder(t *testing.T) {
	env := newTestEnv(t)
	shipper := env.connect(t, env.shipper, "sub-1")
	driver := env.connect(t, env.driver, "sub-2")

	// One round trip so both subscriptions are registered before the burst.
	publish(t, shipper, env.room, "ready")
	decodeMessage(t, readFrame(t, shipper))
	decodeMessage(t, readFrame(t, driver))

	const perSender = 20
	var wg sync.WaitGroup
	for _, conn := range []*websocket.Conn{shipper, driver} {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			body, err := json.Marshal(types.OutboundMessage{RoomID: env.room, Content: "load"})
			if !assert.NoError(t, err) {
				return
			}
			data, err := stomp.Encode(stomp.Send(stomp.PublishDestination, body))
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < perSender; i++ {
				assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range []*websocket.Conn{shipper, driver} {
		var last int64
		for i := 0; i < 2*perSender; i++ {
			msg := decodeMessage(t, readFrame(t, conn))
			assert.Greater(t, msg.ID, last)
			last = msg.ID
		}
	}
}

func TestInvalidPublishesAreDropped(t *testing.T) {
	env := newTestEnv(t)
	shipper := env.connect(t, env.shipper, "sub-1")

	foreign, err := env.store.CreateRoom(context.Background(), "Fuel co-op", models.RoomGroupBuy, []int64{env.driver})
	require.NoError(t, err)

	publish(t, shipper, env.room, "   ")
	publish(t, shipper, env.room, strings.Repeat("x", MaxContentLength+1))
	publish(t, shipper, foreign, "not my room")
	writeFrame(t, shipper, stomp.Send(stomp.PublishDestination, []byte("{broken")))
	writeFrame(t, shipper, stomp.Send("/pub/elsewhere", []byte(`{"roomId":1,"content":"x"}`)))
	publish(t, shipper, env.room, "valid")

	msg := decodeMessage(t, readFrame(t, shipper))
	assert.Equal(t, "valid", msg.Content)

	stored, _, err := env.store.Fetch(context.Background(), env.room, 0, 30)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSubscribeToForeignRoomIsRefused(t *testing.T) {
	env := newTestEnv(t)
	foreign, err := env.store.CreateRoom(context.Background(), "Family", models.RoomFamily, []int64{env.driver})
	require.NoError(t, err)

	conn := env.dial(t)
	writeFrame(t, conn, stomp.Connect("localhost", env.token(t, env.shipper)))
	require.Equal(t, frame.CONNECTED, readFrame(t, conn).Command)

	writeFrame(t, conn, stomp.Subscribe("sub-1", stomp.RoomTopic(foreign)))
	f := readFrame(t, conn)
	assert.Equal(t, frame.ERROR, f.Command)
	assert.Contains(t, f.Header.Get(frame.Message), "not a member")

	require.Eventually(t, func() bool { return env.broker.ActiveSessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDisconnectSendsReceiptAndUnregisters(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, env.shipper, "sub-1")
	require.Eventually(t, func() bool { return env.broker.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	writeFrame(t, conn, stomp.Disconnect("bye-1"))
	receipt := readFrame(t, conn)
	assert.Equal(t, frame.RECEIPT, receipt.Command)
	assert.Equal(t, "bye-1", receipt.Header.Get(frame.ReceiptId))

	require.Eventually(t, func() bool { return env.broker.ActiveSessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	driver := env.connect(t, env.driver, "sub-driver")
	shipper := env.connect(t, env.shipper, "sub-shipper")

	writeFrame(t, driver, stomp.Unsubscribe("sub-driver"))
	// The hub handles requests in order, so the driver's own publish after
	// unsubscribing is not delivered back to it.
	publish(t, driver, env.room, "after unsubscribe")
	assert.Equal(t, "after unsubscribe", decodeMessage(t, readFrame(t, shipper)).Content)

	driver.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := driver.ReadMessage()
	assert.Error(t, err)
}

func TestRateLimitDropsExcessSends(t *testing.T) {
	env := newTestEnv(t)
	b, err := New(Config{
		Issuer: env.issuer, Users: env.store, Rooms: env.store, Messages: env.store,
		RateBurst: 2, RateInterval: time.Hour,
	})
	require.NoError(t, err)
	go b.Run()
	t.Cleanup(b.Shutdown)
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, stomp.Connect("localhost", env.token(t, env.shipper)))
	require.Equal(t, frame.CONNECTED, readFrame(t, conn).Command)
	writeFrame(t, conn, stomp.Subscribe("sub-1", stomp.RoomTopic(env.room)))

	for i := 0; i < 4; i++ {
		publish(t, conn, env.room, "burst")
	}
	decodeMessage(t, readFrame(t, conn))
	decodeMessage(t, readFrame(t, conn))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
