package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/turn"
	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/audio/capture"
)

// turnResponse is the JSON body returned from POST /api/turns.
type turnResponse struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Transcript string `json:"transcript"`
	Keyword    string `json:"keyword,omitempty"`
	Reply      string `json:"reply"`
	Terminated bool   `json:"terminated"`
	Error      string `json:"error,omitempty"`

	// Audio is the synthesized reply, base64-encoded by encoding/json.
	// Empty when synthesis failed or the engine spoke on the server.
	Audio []byte `json:"audio,omitempty"`
	MIME  string `json:"mime,omitempty"`
}

func newTurnResponse(res turn.Result) turnResponse {
	out := turnResponse{
		ID:         res.ID,
		State:      res.Final.String(),
		Transcript: res.Transcript,
		Keyword:    res.Keyword,
		Reply:      res.Reply,
		Terminated: res.Terminated,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.Speech != nil && !res.Speech.Spoken {
		out.Audio = res.Speech.Data
		out.MIME = res.Speech.MIME
	}
	return out
}

// discard is the player for browser turns: the reply audio is returned to
// the client instead of being played on the server.
var discard = audio.PlayerFunc(func(context.Context, audio.Clip) error { return nil })

// handleTurn handles POST /api/turns. The body is a WAV file, either raw or
// in the multipart field "audio". Each upload is its own conversation.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Turns == nil {
		http.Error(w, "turns are not available", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	name, data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var conv turn.ConversationState
	res := s.cfg.Turns.RunWith(r.Context(), &conv, turn.IO{
		Source: capture.FromBytes(name, data, s.cfg.TargetSampleRate),
		Player: discard,
	})
	observe.Logger(r.Context()).Debug("upload turn finished", "turn_id", res.ID, "state", res.Final.String())

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, turn.ErrCapture):
		status = http.StatusUnprocessableEntity
	case errors.Is(res.Err, turn.ErrTranscription):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, newTurnResponse(res))
}

// readUpload returns the uploaded file name and contents.
func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			return "", nil, errors.New(`multipart field "audio" is required`)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, err
		}
		return hdr.Filename, data, nil
	} else if !errors.Is(err, http.ErrNotMultipart) {
		return "", nil, err
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, errors.New("request body is empty")
	}
	return "upload.wav", data, nil
}
