package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"freight-chat/internal/models"
	"freight-chat/internal/stomp"
	"freight-chat/internal/types"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

type historyKey struct {
	roomID int64
	page   int
}

// fakeBackend serves canned REST responses and counts calls.
type fakeBackend struct {
	mu          sync.Mutex
	profile     *types.Profile
	profileErr  error
	rooms       []models.Room
	roomsErr    error
	pages       map[historyKey]*types.HistoryPage
	historyErr  error
	historyHook func(roomID int64, page int)

	historyCalls atomic.Int32
	profileCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profile: &types.Profile{UserID: 7, Name: "Driver Kim", Role: models.RoleDriver},
		pages:   make(map[historyKey]*types.HistoryPage),
	}
}

func (b *fakeBackend) Profile(ctx context.Context) (*types.Profile, error) {
	b.profileCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.profileErr != nil {
		return nil, b.profileErr
	}
	profile := *b.profile
	return &profile, nil
}

func (b *fakeBackend) Rooms(ctx context.Context) ([]models.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roomsErr != nil {
		return nil, b.roomsErr
	}
	return append([]models.Room(nil), b.rooms...), nil
}

func (b *fakeBackend) History(ctx context.Context, roomID int64, page int) (*types.HistoryPage, error) {
	b.historyCalls.Add(1)
	b.mu.Lock()
	hook := b.historyHook
	b.mu.Unlock()
	if hook != nil {
		hook(roomID, page)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	if p, ok := b.pages[historyKey{roomID, page}]; ok {
		copied := *p
		copied.Messages = append([]models.Message(nil), p.Messages...)
		return &copied, nil
	}
	return &types.HistoryPage{RoomID: roomID, CurrentPage: page, Messages: []models.Message{}}, nil
}

func (b *fakeBackend) CreatePersonalRoom(ctx context.Context, targetUserID int64) (int64, error) {
	return 100 + targetUserID, nil
}

func (b *fakeBackend) Token() string {
	return testToken
}

func (b *fakeBackend) setPage(roomID int64, page int, hasNext bool, ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[historyKey{roomID, page}] = &types.HistoryPage{
		RoomID:      roomID,
		Messages:    messagesWithIDs(roomID, ids...),
		CurrentPage: page,
		HasNext:     hasNext,
	}
}

func (b *fakeBackend) setHook(hook func(roomID int64, page int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyHook = hook
}

func messagesWithIDs(roomID int64, ids ...int64) []models.Message {
	messages := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, models.Message{
			ID:         id,
			RoomID:     roomID,
			SenderID:   3,
			SenderName: "Hanbit Logistics",
			Content:    fmt.Sprintf("message %d", id),
			Type:       models.TypeText,
			CreatedAt:  time.Unix(id, 0).UTC(),
		})
	}
	return messages
}

// descending returns ids from high down to low.
func descending(high, low int64) []int64 {
	ids := make([]int64, 0, high-low+1)
	for id := high; id >= low; id-- {
		ids = append(ids, id)
	}
	return ids
}

func idsOf(messages []models.Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}

// fakeBroker is a minimal STOMP endpoint: it accepts CONNECT with testToken,
// records subscriptions, echoes SENDs back as MESSAGEs when echo is set, and
// lets tests push arbitrary frames.
type fakeBroker struct {
	server *httptest.Server
	echo   atomic.Bool

	active     atomic.Int32
	dials      atomic.Int32
	sends      atomic.Int32
	nextID     atomic.Int64
	subscribed chan string

	mu      sync.Mutex
	current *fakeConn
}

type fakeConn struct {
	writeMu      sync.Mutex
	conn         *websocket.Conn
	subscription string
	destination  string
}

func (c *fakeConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *fakeConn) writeFrame(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	return c.write(data)
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{subscribed: make(chan string, 16)}
	b.nextID.Store(5000)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.dials.Add(1)
		b.active.Add(1)
		defer b.active.Add(-1)
		defer conn.Close()

		fc := &fakeConn{conn: conn}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := stomp.Decode(data)
			if err != nil || f == nil {
				continue
			}
			switch f.Command {
			case frame.CONNECT:
				if stomp.BearerToken(f) != testToken {
					fc.writeFrame(stomp.Error("bad credentials"))
					return
				}
				fc.writeFrame(stomp.Connected("fake-session"))
			case frame.SUBSCRIBE:
				fc.subscription = f.Header.Get(frame.Id)
				fc.destination = f.Header.Get(frame.Destination)
				b.mu.Lock()
				b.current = fc
				b.mu.Unlock()
				select {
				case b.subscribed <- fc.destination:
				default:
				}
			case frame.SEND:
				b.sends.Add(1)
				if b.echo.Load() {
					b.echoBack(fc, f)
				}
			case frame.DISCONNECT:
				return
			}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) echoBack(fc *fakeConn, f *frame.Frame) {
	var out types.OutboundMessage
	if err := json.Unmarshal(f.Body, &out); err != nil {
		return
	}
	msg := models.Message{
		ID:         b.nextID.Add(1),
		RoomID:     out.RoomID,
		SenderID:   out.SenderID,
		SenderName: "Driver Kim",
		Content:    out.Content,
		Type:       out.Type,
		CreatedAt:  time.Now().UTC(),
	}
	body, _ := json.Marshal(msg)
	fc.writeFrame(stomp.Message(fc.destination, fc.subscription, fmt.Sprint(msg.ID), body))
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + stomp.Endpoint
}

func (b *fakeBroker) waitSubscribed(t *testing.T, roomID int64) {
	t.Helper()
	select {
	case destination := <-b.subscribed:
		require.Equal(t, stomp.RoomTopic(roomID), destination)
	case <-time.After(3 * time.Second):
		t.Fatal("no subscription received")
	}
}

func (b *fakeBroker) conn(t *testing.T) *fakeConn {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(t, b.current, "no subscribed connection")
	return b.current
}

// push delivers msg on the current subscription.
func (b *fakeBroker) push(t *testing.T, msg models.Message) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	b.pushBody(t, body)
}

func (b *fakeBroker) pushBody(t *testing.T, body []byte) {
	t.Helper()
	fc := b.conn(t)
	require.NoError(t, fc.writeFrame(stomp.Message(fc.destination, fc.subscription, "m-1", body)))
}

func (b *fakeBroker) pushRaw(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, b.conn(t).write(data))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) states() []ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []ChannelState
	for _, event := range r.events {
		if event.Kind == EventStateChanged {
			states = append(states, event.State)
		}
	}
	return states
}

func newTestManager(t *testing.T, backend Backend, socketURL string) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m, err := NewManager(Config{Backend: backend, SocketURL: socketURL, Listener: rec.listen})
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m, rec
}
