package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/angioreview/pkg/provider/stt"
	"github.com/MrWong99/angioreview/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceServer answers POST /inference with text and records the form
// fields of the last request.
type inferenceServer struct {
	*httptest.Server
	calls atomic.Int32

	mu     sync.Mutex
	fields map[string]string
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.calls.Add(1)
		s.mu.Lock()
		s.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			s.fields[k] = v[0]
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) field(k string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[k]
}

// speech returns 16 kHz mono PCM of a 440 Hz tone, well above the silence
// threshold.
func speech(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(samples int) []byte { return make([]byte, samples*2) }

func start(t *testing.T, p *whisper.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

var mono16k = stt.StreamConfig{SampleRate: 16000, Channels: 1}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, mono16k); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- segmentation -----------------------------------------------------------

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "unexpected")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(50))
	h := start(t, p, mono16k)

	_ = h.SendAudio(silence(16000))
	time.Sleep(100 * time.Millisecond)
	h.Close()

	if n := srv.calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for silence-only audio; want 0", n)
	}
}

func TestUtteranceCommittedAfterPause(t *testing.T) {
	t.Parallel()
	const want = "LAD sixty percent"
	srv := newInferenceServer(t, want)
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := start(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en", Keywords: []string{"LAD", "RCA"}})

	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	select {
	case tr := <-h.Finals():
		if tr.Text != want || !tr.IsFinal {
			t.Errorf("final = %+v, want text %q and IsFinal", tr, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
	select {
	case tr := <-h.Partials():
		if tr.Text != want || tr.IsFinal {
			t.Errorf("partial = %+v, want non-final %q", tr, want)
		}
	default:
		t.Error("no partial emitted ahead of the final")
	}
	if got := srv.field("prompt"); got != "LAD, RCA" {
		t.Errorf("prompt field = %q, want %q", got, "LAD, RCA")
	}
	if got := srv.field("response_format"); got != "json" {
		t.Errorf("response_format field = %q, want json", got)
	}
}

func TestMaxBufferForcesFlush(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "severe distal stenosis")
	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(10_000),
		whisper.WithMaxBufferDurationMs(200),
	)
	h := start(t, p, mono16k)

	_ = h.SendAudio(speech(3360))

	select {
	case tr := <-h.Finals():
		if tr.Text != "severe distal stenosis" {
			t.Errorf("final = %q", tr.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forced flush")
	}
}

// ---- close ------------------------------------------------------------------

func TestClose_TranscribesBufferedSpeech(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "mild ostial lesion")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(60_000))
	h := start(t, p, mono16k)

	_ = h.SendAudio(speech(1600))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []string
	for tr := range h.Finals() {
		got = append(got, tr.Text)
	}
	if len(got) != 1 || got[0] != "mild ostial lesion" {
		t.Errorf("finals after Close = %v, want [mild ostial lesion]", got)
	}
	if tr, open := <-h.Partials(); open {
		t.Errorf("partial %+v emitted while closing; want Partials closed and empty", tr)
	}
}

func TestClose_IdempotentAndRejectsAudio(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "")
	p, _ := whisper.New(srv.URL)
	h := start(t, p, mono16k)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.SendAudio(speech(100)); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

// ---- errors -----------------------------------------------------------------

func TestServerErrorIsReported(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := start(t, p, mono16k)

	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	select {
	case err := <-h.Err():
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session error")
	}
}

func TestEmptyResponseProducesNoFinal(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "   ")
	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	h := start(t, p, mono16k)

	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))
	time.Sleep(200 * time.Millisecond)
	h.Close()

	for tr := range h.Finals() {
		t.Errorf("unexpected final %q for blank server response", tr.Text)
	}
}
