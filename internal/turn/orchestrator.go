// Package turn runs one conversational turn at a time:
//
//	capture → transcribe → termination check → generate → synthesize → play
//
// An [Orchestrator] owns the per-turn state machine ([State]) and the error
// policy. Capture and transcription failures abort the turn. Generation,
// synthesis and playback failures are logged and recorded, and the turn
// still completes. Nothing is retried: each capability is called at most once
// per turn.
//
// A transcript containing a stop keyword ([Terminator]) skips generation,
// speaks the farewell and marks the shared [ConversationState] terminated.
//
// Remote speech is persisted to a scoped temporary file for the [audio.Player]
// and that file is removed on every exit path.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/audio/capture"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

// Deps are the collaborators of an [Orchestrator].
//
// STT, LLM and TTS are required for a useful turn; a nil capability fails
// its stage. Player defaults to [audio.Discard] and Display to a no-op.
type Deps struct {
	Source  capture.Source
	STT     stt.Provider
	LLM     llm.Provider
	TTS     tts.Provider
	Player  audio.Player
	Display Display
}

// Settings are the conversation parameters read at the start of every turn.
// They can be swapped between turns with [Orchestrator.UpdateSettings].
type Settings struct {
	Persona      string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	StopKeywords []string
	Farewell     string
	Voice        types.VoiceProfile
	STT          stt.Request
}

// DefaultSettings returns the built-in conversation parameters.
func DefaultSettings() Settings {
	return Settings{
		Persona:      DefaultPersona,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		TopP:         DefaultTopP,
		StopKeywords: DefaultStopKeywords(),
		Farewell:     DefaultFarewell,
		STT:          stt.DefaultRequest(),
	}
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithMetrics records stage latencies and turn outcomes on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTempDir places temporary speech files in dir instead of os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// WithKeepTemp leaves temporary speech files on disk. Debugging only.
func WithKeepTemp(keep bool) Option {
	return func(o *Orchestrator) { o.keepTemp = keep }
}

// WithProviderNames labels provider metrics with the configured backend names.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(o *Orchestrator) {
		o.names = providerNames{stt: sttName, llm: llmName, tts: ttsName}
	}
}

type providerNames struct {
	stt, llm, tts string
}

// IO overrides the per-turn endpoints of [Deps] for a single run. Nil fields
// fall back to the orchestrator's Deps.
type IO struct {
	Source  capture.Source
	Player  audio.Player
	Display Display
}

// Result describes one finished turn.
type Result struct {
	// ID identifies the turn in logs, temp file names and traces.
	ID string

	// Final is Done or Aborted.
	Final State

	// Transcript is the recognised text. Empty when the turn was aborted.
	Transcript string

	// Keyword is the stop keyword that ended the conversation, if any.
	Keyword string

	// Reply is the spoken text: the generated reply or the farewell.
	Reply string

	// Speech is the synthesis result, if synthesis succeeded.
	Speech *tts.Speech

	// Err is the first recorded failure. It wraps one of the package's
	// sentinel errors. Nil for a clean turn.
	Err error

	// Terminated reports that this turn ended the conversation.
	Terminated bool

	// Trace lists every state entered, starting with Idle.
	Trace []State
}

// Orchestrator runs turns. Only one turn executes at a time; concurrent
// callers queue behind the running turn until their context is done.
type Orchestrator struct {
	deps     Deps
	metrics  *observe.Metrics
	tempDir  string
	keepTemp bool
	names    providerNames

	// slot admits one turn at a time.
	slot chan struct{}

	mu       sync.RWMutex
	settings Settings
}

// New creates an Orchestrator.
func New(deps Deps, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{deps: deps, settings: settings, slot: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.deps.Player == nil {
		o.deps.Player = audio.Discard
	}
	if o.deps.Display == nil {
		o.deps.Display = nopDisplay{}
	}
	return o
}

// Settings returns a copy of the current conversation settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.settings
	s.StopKeywords = append([]string(nil), o.settings.StopKeywords...)
	return s
}

// UpdateSettings replaces the conversation settings. A running turn keeps
// the settings it started with; the change applies from the next turn.
func (o *Orchestrator) UpdateSettings(s Settings) {
	s.StopKeywords = append([]string(nil), s.StopKeywords...)
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
}

// Run executes one turn against the default Deps.
func (o *Orchestrator) Run(ctx context.Context, conv *ConversationState) Result {
	return o.RunWith(ctx, conv, IO{})
}

// RunWith executes one turn with the endpoints in io overriding Deps.
// A terminated conversation returns immediately without any external call.
// While another turn runs, RunWith waits; if ctx is done first the turn is
// Aborted with an error wrapping [ErrBusy] and ctx.Err().
func (o *Orchestrator) RunWith(ctx context.Context, conv *ConversationState, io IO) Result {
	id := uuid.NewString()
	r := &runner{
		o:       o,
		conv:    conv,
		set:     o.Settings(),
		source:  io.Source,
		player:  io.Player,
		display: io.Display,
		res:     Result{ID: id},
	}
	if r.source == nil {
		r.source = o.deps.Source
	}
	if r.player == nil {
		r.player = o.deps.Player
	}
	if r.display == nil {
		r.display = o.deps.Display
	}

	ctx = observe.WithTurn(ctx, id)
	ctx, span := observe.StartSpan(ctx, "turn", trace.WithAttributes(attribute.String("turn.id", id)))
	defer span.End()
	r.log = observe.Logger(ctx)

	select {
	case o.slot <- struct{}{}:
		defer func() { <-o.slot }()
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
		r.enter(Idle)
		r.abort(err)
		o.metrics.RecordTurnOutcome(ctx, r.res.Final.String(), false)
		span.SetStatus(codes.Error, err.Error())
		return r.res
	}

	start := time.Now()
	r.enter(Idle)

	if conv.Terminated() {
		r.res.Terminated = true
		r.enter(Done)
		return r.res
	}

	sc := newScratch(o.tempDir, id, o.keepTemp)
	defer sc.cleanup()
	r.scratch = sc

	r.execute(ctx)

	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.RecordTurnOutcome(ctx, r.res.Final.String(), r.res.Terminated)
	span.SetAttributes(
		attribute.String("turn.final_state", r.res.Final.String()),
		attribute.Bool("turn.terminated", r.res.Terminated),
	)
	if r.res.Err != nil {
		span.SetStatus(codes.Error, r.res.Err.Error())
	}
	r.log.Info("turn finished",
		"state", r.res.Final.String(),
		"terminated", r.res.Terminated,
		"duration", time.Since(start),
		"err", r.res.Err,
	)
	return r.res
}

// runner carries the mutable state of one turn.
type runner struct {
	o       *Orchestrator
	conv    *ConversationState
	set     Settings
	source  capture.Source
	player  audio.Player
	display Display
	scratch *scratch
	log     *slog.Logger
	res     Result
}

func (r *runner) enter(s State) {
	r.res.Trace = append(r.res.Trace, s)
	if s.Final() {
		r.res.Final = s
	}
	r.display.Show(Event{TurnID: r.res.ID, Kind: EventState, State: s})
}

// record keeps the first failure of the turn.
func (r *runner) record(err error) {
	if r.res.Err == nil {
		r.res.Err = err
	}
}

func (r *runner) showError(err error) {
	r.display.Show(Event{TurnID: r.res.ID, Kind: EventError, Err: err, Text: err.Error()})
}

func (r *runner) abort(err error) {
	r.record(err)
	r.log.Warn("turn aborted", "err", err)
	r.showError(err)
	r.enter(Aborted)
}

func (r *runner) execute(ctx context.Context) {
	r.enter(Capturing)
	buf, err := r.capture(ctx)
	if err != nil {
		r.abort(fmt.Errorf("%w: %w", ErrCapture, err))
		return
	}

	r.enter(Transcribing)
	tr, err := r.transcribe(ctx, buf)
	if err != nil {
		r.abort(fmt.Errorf("%w: %w", ErrTranscription, err))
		return
	}
	r.res.Transcript = tr.Text
	r.display.Show(Event{TurnID: r.res.ID, Kind: EventTranscript, Text: tr.Text})

	r.enter(CheckingTermination)
	if kw, ok := NewTerminator(r.set.StopKeywords...).Match(tr.Text); ok {
		r.res.Keyword = kw
		r.log.Info("stop keyword detected", "keyword", kw)
		farewell := r.set.Farewell
		if farewell == "" {
			farewell = DefaultFarewell
		}
		r.res.Reply = farewell
		r.display.Show(Event{TurnID: r.res.ID, Kind: EventReply, Text: farewell})
		if err := r.speak(ctx, farewell); err != nil {
			r.log.Warn("farewell not spoken", "err", err)
		}
		r.conv.Terminate()
		r.res.Terminated = true
		r.enter(Done)
		return
	}

	r.enter(Generating)
	reply, err := r.generate(ctx, tr.Text)
	if err != nil {
		r.record(err)
		r.log.Error("reply generation failed", "err", err)
		r.showError(err)
		r.enter(Done)
		return
	}
	r.res.Reply = reply
	r.display.Show(Event{TurnID: r.res.ID, Kind: EventReply, Text: reply})

	if err := r.speak(ctx, reply); err != nil {
		r.record(err)
		r.log.Error("reply not spoken", "err", err)
	}
	r.enter(Done)
}

func (r *runner) capture(ctx context.Context) (audio.Buffer, error) {
	if r.source == nil {
		return audio.Buffer{}, errors.New("no audio source configured")
	}
	var buf audio.Buffer
	err := r.stage(ctx, "capture", r.o.metrics.CaptureDuration, func(ctx context.Context) error {
		var err error
		buf, err = r.source.Capture(ctx)
		return err
	})
	if err == nil {
		r.log.Debug("audio captured", "source", r.source.Name(), "duration", buf.Duration(), "sample_rate", buf.SampleRate)
	}
	return buf, err
}

func (r *runner) transcribe(ctx context.Context, buf audio.Buffer) (types.Transcript, error) {
	if r.o.deps.STT == nil {
		return types.Transcript{}, errors.New("no transcription provider configured")
	}
	var tr types.Transcript
	err := r.stage(ctx, "transcribe", r.o.metrics.STTDuration, func(ctx context.Context) error {
		var err error
		tr, err = r.o.deps.STT.Transcribe(ctx, buf, r.set.STT)
		return err
	})
	r.account(ctx, r.o.names.stt, "stt", err)
	return tr, err
}

func (r *runner) generate(ctx context.Context, transcript string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	gen := &Generator{
		LLM:         r.o.deps.LLM,
		Persona:     r.set.Persona,
		Temperature: r.set.Temperature,
		MaxTokens:   r.set.MaxTokens,
		TopP:        r.set.TopP,
	}
	var reply string
	err := r.stage(ctx, "generate", r.o.metrics.LLMDuration, func(ctx context.Context) error {
		var err error
		reply, err = gen.Generate(ctx, transcript)
		return err
	})
	r.account(ctx, r.o.names.llm, "llm", err)
	return reply, err
}

// speak synthesizes text once and plays the result unless the engine has
// already spoken it.
func (r *runner) speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if r.o.deps.TTS == nil {
		return fmt.Errorf("%w: no speech synthesizer configured", ErrSynthesis)
	}

	r.enter(Synthesizing)
	var sp *tts.Speech
	err := r.stage(ctx, "synthesize", r.o.metrics.TTSDuration, func(ctx context.Context) error {
		var err error
		sp, err = r.o.deps.TTS.Synthesize(ctx, text, r.set.Voice)
		return err
	})
	r.account(ctx, r.o.names.tts, "tts", err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if sp == nil {
		return fmt.Errorf("%w: no speech returned", ErrSynthesis)
	}
	r.res.Speech = sp
	if sp.Spoken {
		return nil
	}

	r.enter(Playing)
	path, err := r.scratch.write(sp.Data, sp.Ext())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	err = r.stage(ctx, "play", nil, func(ctx context.Context) error {
		return r.player.Play(ctx, audio.Clip{Path: path, MIME: sp.MIME})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}

// stage runs fn inside a child span and records its latency on hist.
func (r *runner) stage(ctx context.Context, name string, hist metric.Float64Histogram, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "turn."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if hist != nil {
		hist.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *runner) account(ctx context.Context, provider, kind string, err error) {
	if provider == "" {
		provider = "default"
	}
	status := "ok"
	if err != nil {
		status = "error"
		r.o.metrics.RecordProviderError(ctx, provider, kind)
	}
	r.o.metrics.RecordProviderRequest(ctx, provider, kind, status)
}
