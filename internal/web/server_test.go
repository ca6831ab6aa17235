package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkloop/internal/health"
	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/session"
	"github.com/MrWong99/talkloop/internal/turn"
	"github.com/MrWong99/talkloop/internal/web"
	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkloop/pkg/provider/llm/mock"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkloop/pkg/provider/stt/mock"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talkloop/pkg/provider/tts/mock"
	"github.com/MrWong99/talkloop/pkg/types"
)

var replyAudio = audio.EncodeWAV(audio.Buffer{PCM: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1})

type harness struct {
	stt  *sttmock.Provider
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	srv  *httptest.Server
	conv *fakeConversations
}

// newHarness serves a real orchestrator over mocks. The STT mock returns
// transcripts in order and repeats the last one. configure, if set, runs
// before the server starts.
func newHarness(t *testing.T, transcripts []string, configure func(*harness)) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		stt:  &sttmock.Provider{},
		llm:  &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Sure, happy to help."}},
		tts:  &ttsmock.Provider{Speech: &tts.Speech{Data: replyAudio, MIME: tts.MIMEWAV}},
		conv: &fakeConversations{},
	}
	var n atomic.Int32
	h.stt.TranscribeFunc = func(context.Context, audio.Buffer, stt.Request) (types.Transcript, error) {
		i := min(int(n.Add(1))-1, len(transcripts)-1)
		return types.Transcript{Text: transcripts[i]}, nil
	}
	if configure != nil {
		configure(h)
	}
	orch := turn.New(turn.Deps{STT: h.stt, LLM: h.llm, TTS: h.tts}, turn.DefaultSettings(),
		turn.WithMetrics(m), turn.WithTempDir(t.TempDir()))

	s := web.New(web.Config{
		Turns:          orch,
		Conversations:  h.conv,
		Metrics:        m,
		Health:         health.New([]health.Checker{{Name: "providers", Check: func(context.Context) error { return nil }}}),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "talkloop_turn_outcomes_total 1") }),
	})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

type fakeConversations struct {
	mu      sync.Mutex
	running bool
	stops   int
}

func (f *fakeConversations) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("app: %w", session.ErrAlreadyRunning)
	}
	f.running = true
	return nil
}

func (f *fakeConversations) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakeConversations) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeConversations) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{Running: f.running}
}

func wavUpload() []byte {
	return audio.EncodeWAV(audio.Buffer{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1})
}

type turnBody struct {
	State      string `json:"state"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Terminated bool   `json:"terminated"`
	Error      string `json:"error"`
	Audio      []byte `json:"audio"`
	MIME       string `json:"mime"`
}

func decodeTurn(t *testing.T, resp *http.Response) turnBody {
	t.Helper()
	defer resp.Body.Close()
	var body turnBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestPostTurn_RawBody(t *testing.T) {
	h := newHarness(t, []string{"What's the weather?"}, nil)

	resp, err := http.Post(h.srv.URL+"/api/turns", "audio/wav", bytes.NewReader(wavUpload()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeTurn(t, resp)
	if body.State != "Done" || body.Transcript != "What's the weather?" || body.Reply != "Sure, happy to help." {
		t.Errorf("body = %+v", body)
	}
	if !bytes.Equal(body.Audio, replyAudio) || body.MIME != tts.MIMEWAV {
		t.Errorf("audio: %d bytes, mime %q", len(body.Audio), body.MIME)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.CallCount())
	}
}

func TestPostTurn_Multipart(t *testing.T) {
	h := newHarness(t, []string{"hello there"}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio", "question.wav")
	_, _ = fw.Write(wavUpload())
	_ = mw.Close()

	resp, err := http.Post(h.srv.URL+"/api/turns", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if body := decodeTurn(t, resp); body.Transcript != "hello there" {
		t.Errorf("transcript = %q", body.Transcript)
	}
}

func TestPostTurn_StopKeyword(t *testing.T) {
	h := newHarness(t, []string{"Okay, goodbye!"}, nil)

	resp, err := http.Post(h.srv.URL+"/api/turns", "audio/wav", bytes.NewReader(wavUpload()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	body := decodeTurn(t, resp)
	if !body.Terminated || body.Reply != turn.DefaultFarewell {
		t.Errorf("body = %+v", body)
	}
	if h.llm.CallCount() != 0 {
		t.Errorf("llm calls = %d, want 0", h.llm.CallCount())
	}
}

func TestPostTurn_Errors(t *testing.T) {
	h := newHarness(t, []string{"hi"}, nil)

	tests := []struct {
		name string
		body []byte
		want int
	}{
		{"empty body", nil, http.StatusBadRequest},
		{"not a wav", []byte("definitely not audio"), http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(h.srv.URL+"/api/turns", "audio/wav", bytes.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
	if h.stt.CallCount() != 0 {
		t.Errorf("stt calls = %d, want 0", h.stt.CallCount())
	}
}

func TestPostTurn_TranscriptionFailure(t *testing.T) {
	h := newHarness(t, []string{""}, func(h *harness) {
		h.stt.TranscribeFunc = func(context.Context, audio.Buffer, stt.Request) (types.Transcript, error) {
			return types.Transcript{}, errors.New("deepgram: status 401")
		}
	})

	resp, err := http.Post(h.srv.URL+"/api/turns", "audio/wav", bytes.NewReader(wavUpload()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeTurn(t, resp)
	if body.State != "Aborted" || !strings.Contains(body.Error, "401") {
		t.Errorf("body = %+v", body)
	}
}

func TestConversationRoutes(t *testing.T) {
	h := newHarness(t, []string{"hi"}, nil)

	post := func(path string) int {
		t.Helper()
		resp, err := http.Post(h.srv.URL+path, "", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post("/api/conversation/start"); got != http.StatusAccepted {
		t.Errorf("first start = %d, want 202", got)
	}
	if got := post("/api/conversation/start"); got != http.StatusConflict {
		t.Errorf("second start = %d, want 409", got)
	}

	resp, err := http.Get(h.srv.URL + "/api/conversation")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var st session.Status
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if !st.Running {
		t.Error("status should report running")
	}

	for range 2 {
		if got := post("/api/conversation/stop"); got != http.StatusOK {
			t.Errorf("stop = %d, want 200", got)
		}
	}
	if got := h.conv.Stops(); got != 2 {
		t.Errorf("stops = %d", got)
	}
}

func TestStaticAndOperationalRoutes(t *testing.T) {
	h := newHarness(t, []string{"hi"}, nil)

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "Start Conversation"},
		{"/healthz", `"status":"ok"`},
		{"/readyz", `"providers":"ok"`},
		{"/metrics", "talkloop_turn_outcomes_total"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(h.srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(resp.Body)
			if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), tc.contains) {
				t.Errorf("status %d, body %q", resp.StatusCode, buf.String())
			}
		})
	}
}

type wsEvent struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	Text       string `json:"text"`
	Terminated bool   `json:"terminated"`
	MIME       string `json:"mime"`
}

// talk sends one utterance and collects messages up to the "done" event.
func talk(t *testing.T, ctx context.Context, c *websocket.Conn) ([]wsEvent, []byte) {
	t.Helper()
	for range 3 {
		if err := c.Write(ctx, websocket.MessageBinary, make([]byte, 960)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	var (
		events []wsEvent
		reply  []byte
	)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.MessageBinary {
			reply = data
			continue
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
		if ev.Type == "done" {
			return events, reply
		}
	}
}

func find(events []wsEvent, typ string) (wsEvent, bool) {
	for _, ev := range events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return wsEvent{}, false
}

func TestStream_TurnAndTermination(t *testing.T) {
	h := newHarness(t, []string{"tell me a joke", "Thank you, that's all"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/stream?rate=48000"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	events, data := talk(t, ctx, c)
	if ev, _ := find(events, "transcript"); ev.Text != "tell me a joke" {
		t.Errorf("transcript event = %+v", ev)
	}
	if ev, _ := find(events, "reply"); ev.Text != "Sure, happy to help." {
		t.Errorf("reply event = %+v", ev)
	}
	if ev, _ := find(events, "audio"); ev.MIME != tts.MIMEWAV {
		t.Errorf("audio event = %+v", ev)
	}
	if !bytes.Equal(data, replyAudio) {
		t.Errorf("audio: %d bytes", len(data))
	}
	if ev, _ := find(events, "done"); ev.State != "Done" || ev.Terminated {
		t.Errorf("done event = %+v", ev)
	}

	calls := h.stt.Calls()
	if len(calls) != 1 || calls[0].Buffer.SampleRate != 48000 {
		t.Fatalf("stt calls = %+v", calls)
	}

	events, _ = talk(t, ctx, c)
	if ev, _ := find(events, "done"); !ev.Terminated {
		t.Errorf("done event = %+v, want terminated", ev)
	}

	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close = %v, want normal closure", err)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.CallCount())
	}
}

func TestStream_RejectsBadFormat(t *testing.T) {
	h := newHarness(t, []string{"hi"}, nil)
	resp, err := http.Get(h.srv.URL + "/api/stream?rate=96000")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStream_OpenUtteranceDoesNotBlockOtherTurns(t *testing.T) {
	h := newHarness(t, []string{"What's the weather?"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/stream?rate=16000"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	// One frame and then silence: the utterance stays open.
	if err := c.Write(ctx, websocket.MessageBinary, make([]byte, 320)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(h.srv.URL+"/api/turns", "audio/wav", bytes.NewReader(wavUpload()))
	if err != nil {
		t.Fatalf("POST while a stream utterance is open: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decodeTurn(t, resp); body.State != "Done" {
		t.Errorf("body = %+v", body)
	}
	if n := len(h.stt.Calls()); n != 1 {
		t.Errorf("stt calls = %d, want 1 (the open utterance must not be transcribed)", n)
	}

	// Stopping the utterance still runs its turn.
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev wsEvent
		if json.Unmarshal(data, &ev) == nil && ev.Type == "done" {
			if ev.State != "Done" {
				t.Errorf("stream turn state = %q", ev.State)
			}
			break
		}
	}
}
