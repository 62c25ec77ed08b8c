package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/review"
	"github.com/MrWong99/angioreview/internal/voice"
	"github.com/MrWong99/angioreview/pkg/types"
)

func (s *Server) handleCorrectionState(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.State())
}

// handleBegin opens a correction on the active finding.
func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := m.Begin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := m.Cancel(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleSetNote(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req noteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := m.SetNote(req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type submitResponse struct {
	Finding    *types.Finding `json:"finding,omitempty"`
	Applied    bool           `json:"applied"`
	Fallback   bool           `json:"fallback"`
	Correction review.State   `json:"correction"`
}

// handleSubmit runs the correction to completion. A client that disconnects
// does not cancel it.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := m.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := submitResponse{Applied: out.Applied, Fallback: out.Fallback, Correction: m.State()}
	if out.Applied {
		resp.Finding = &out.Finding
	}
	writeJSON(w, http.StatusOK, resp)
}

// voiceEvent is a server-to-client dictation message.
type voiceEvent struct {
	// Type is "state", "transcript" or "error".
	Type string `json:"type"`

	State *review.State `json:"state,omitempty"`

	// Text is the full note after the transcript was appended.
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type voiceCommand struct {
	Type string `json:"type"`
}

// handleVoice streams dictation into the open correction. Binary frames are
// PCM audio in the pipeline's stream format; a {"type":"stop"} text frame
// ends the capture and appends the refined transcript to the note. Closing
// the socket early discards the capture.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	_, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.voice == nil || !s.voice.Available() {
		writeError(w, r, voice.ErrCaptureUnavailable)
		return
	}
	switch m.State().Phase {
	case review.PhaseIdle:
		writeError(w, r, review.ErrNotRejecting)
		return
	case review.PhaseSubmitting:
		writeError(w, r, review.ErrBusy)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: voice upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.Logger(ctx).With("patient_id", r.PathValue("id"))

	var wmu sync.Mutex
	send := func(ev voiceEvent) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			log.Debug("api: voice event not delivered", "type", ev.Type, "err", err)
		}
	}
	sendState := func(st review.State) { send(voiceEvent{Type: "state", State: &st}) }
	fail := func(err error) {
		st := m.State()
		send(voiceEvent{Type: "error", Error: err.Error(), State: &st})
		conn.Close(websocket.StatusInternalError, "capture failed")
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	failed := make(chan error, 1)

	st, err := m.StartVoice(ctx, func(err error) {
		failed <- err
		cancelRead()
	})
	if err != nil {
		log.Info("api: dictation not started", "err", err)
		fail(err)
		return
	}
	sendState(st)

	for {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			select {
			case ferr := <-failed:
				fail(ferr)
			default:
				m.AbortVoice()
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := m.SendAudio(data); err != nil {
				m.AbortVoice()
				fail(err)
				return
			}
		case websocket.MessageText:
			var cmd voiceCommand
			if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type != "stop" {
				send(voiceEvent{Type: "error", Error: "unknown command; send {\"type\":\"stop\"}"})
				continue
			}
			st, err := m.StopVoice(ctx)
			if err != nil {
				fail(err)
				return
			}
			send(voiceEvent{Type: "transcript", Text: st.Note})
			sendState(st)
			conn.Close(websocket.StatusNormalClosure, "capture stopped")
			return
		}
	}
}
