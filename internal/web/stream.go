package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/turn"
	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/audio/capture"
)

const (
	defaultStreamRate    = 48000
	maxStreamMessage     = 1 << 20
	maxPendingUtterances = 4
)

// controlMessage is a text message sent by the browser.
type controlMessage struct {
	Type string `json:"type"`
}

// streamEvent is a JSON text message sent to the browser.
type streamEvent struct {
	Type       string `json:"type"`
	TurnID     string `json:"turn_id,omitempty"`
	State      string `json:"state,omitempty"`
	Text       string `json:"text,omitempty"`
	Terminated bool   `json:"terminated,omitempty"`
	MIME       string `json:"mime,omitempty"`
}

// handleStream handles GET /api/stream.
//
// Binary messages carry 16-bit little-endian PCM at the rate and channel
// count given by the "rate" (default 48000) and "channels" (default 1)
// query parameters. Frames are buffered without occupying the turn
// orchestrator; the text message {"type":"stop"} ends the utterance and
// queues its turn. The server answers with status, transcript, reply and
// error events, an {"type":"audio"} event naming the MIME type of the
// binary message that follows it, and a final {"type":"done"} event. The connection is one conversation: once a stop
// keyword is heard the server closes it normally.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Turns == nil {
		http.Error(w, "turns are not available", http.StatusServiceUnavailable)
		return
	}
	rate, channels, err := streamFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxStreamMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sc := &streamConn{
		srv:      s,
		conn:     conn,
		rate:     rate,
		channels: channels,
		log:      observe.Logger(ctx),
	}
	err = sc.serve(ctx)
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "goodbye")
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
	default:
		sc.log.Warn("stream closed", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "stream failed")
	}
	cancel()
	sc.wg.Wait()
}

func streamFormat(r *http.Request) (rate, channels int, err error) {
	rate, channels = defaultStreamRate, 1
	if v := r.URL.Query().Get("rate"); v != "" {
		if rate, err = strconv.Atoi(v); err != nil || rate < 8000 || rate > 48000 {
			return 0, 0, errors.New("rate must be between 8000 and 48000")
		}
	}
	if v := r.URL.Query().Get("channels"); v != "" {
		if channels, err = strconv.Atoi(v); err != nil || (channels != 1 && channels != 2) {
			return 0, 0, errors.New("channels must be 1 or 2")
		}
	}
	return rate, channels, nil
}

// streamConn is one browser conversation.
type streamConn struct {
	srv      *Server
	conn     *websocket.Conn
	rate     int
	channels int
	log      *slog.Logger

	conv    turn.ConversationState
	wg      sync.WaitGroup
	pending chan *capture.Stream

	mu      sync.Mutex
	current *capture.Stream
}

// serve reads messages until the client leaves or the conversation ends.
// It returns nil after termination.
func (c *streamConn) serve(ctx context.Context) error {
	ended := make(chan struct{})
	c.pending = make(chan *capture.Stream, maxPendingUtterances)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if c.runTurns(ctx) {
			close(ended)
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			typ, data, err := c.conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if err := c.handleMessage(ctx, typ, data); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case <-ended:
		return nil
	case err := <-readErr:
		return err
	}
}

// runTurns runs one turn per finished utterance, in arrival order. It
// reports true once a turn ended the conversation.
func (c *streamConn) runTurns(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case st := <-c.pending:
			res := c.srv.cfg.Turns.RunWith(ctx, &c.conv, turn.IO{
				Source:  st,
				Player:  discard,
				Display: turn.DisplayFunc(func(e turn.Event) { c.show(ctx, e) }),
			})
			c.finish(ctx, res)
			if res.Terminated {
				return true
			}
		}
	}
}

func (c *streamConn) handleMessage(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if typ == websocket.MessageBinary {
		return c.utterance().Push(audio.Frame{Data: data, SampleRate: c.rate, Channels: c.channels})
	}

	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return c.send(ctx, streamEvent{Type: "error", Text: "invalid control message"})
	}
	switch msg.Type {
	case "stop":
		c.mu.Lock()
		st := c.current
		c.current = nil
		c.mu.Unlock()
		if st == nil {
			return nil
		}
		st.Stop()
		select {
		case c.pending <- st:
		default:
			return c.send(ctx, streamEvent{Type: "error", Text: "too many utterances waiting; this one was dropped"})
		}
	default:
		return c.send(ctx, streamEvent{Type: "error", Text: "unknown message type " + strconv.Quote(msg.Type)})
	}
	return nil
}

// utterance returns the stream collecting the current utterance. Frames
// only accumulate here; the turn is queued once the utterance is stopped.
func (c *streamConn) utterance() *capture.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.current = capture.NewStream(audio.Format{SampleRate: c.srv.cfg.TargetSampleRate})
	}
	return c.current
}

func (c *streamConn) show(ctx context.Context, e turn.Event) {
	ev := streamEvent{Type: e.Kind.String(), TurnID: e.TurnID, Text: e.Text}
	if e.Kind == turn.EventState {
		ev.State = e.State.String()
	}
	_ = c.send(ctx, ev)
}

func (c *streamConn) finish(ctx context.Context, res turn.Result) {
	if sp := res.Speech; sp != nil && !sp.Spoken && len(sp.Data) > 0 {
		_ = c.send(ctx, streamEvent{Type: "audio", TurnID: res.ID, MIME: sp.MIME})
		if err := c.conn.Write(ctx, websocket.MessageBinary, sp.Data); err != nil {
			c.log.Warn("send reply audio", "turn_id", res.ID, "err", err)
		}
	}
	_ = c.send(ctx, streamEvent{Type: "done", TurnID: res.ID, State: res.Final.String(), Terminated: res.Terminated})
}

func (c *streamConn) send(ctx context.Context, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}
