package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/angioreview/internal/voice"
	"github.com/MrWong99/angioreview/pkg/provider/stt"
	"github.com/MrWong99/angioreview/pkg/provider/stt/mock"
	"github.com/MrWong99/angioreview/pkg/types"
)

// fakeRefiner records its input and returns a canned reply.
type fakeRefiner struct {
	mu    sync.Mutex
	calls []string
	out   string
	err   error
}

func (f *fakeRefiner) Refine(_ context.Context, raw string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, raw)
	if f.err != nil {
		return "", f.err
	}
	if f.out == "" {
		return raw, nil
	}
	return f.out, nil
}

func (f *fakeRefiner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func final(text string) types.Transcript   { return types.Transcript{Text: text, IsFinal: true} }
func partial(text string) types.Transcript { return types.Transcript{Text: text} }

func start(t *testing.T, p *voice.Pipeline, onError func(error)) *voice.Capture {
	t.Helper()
	c, err := p.Start(context.Background(), onError)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestCapture_JoinsFinalsAndDropsPartials(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	ref := &fakeRefiner{}
	p := voice.New(&mock.Provider{Session: sess}, ref)
	c := start(t, p, nil)

	sess.PartialsCh <- partial("BP")
	sess.FinalsCh <- final("BP is")
	sess.PartialsCh <- partial("140 over")
	sess.FinalsCh <- final("140 over 90")

	got, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got != "BP is 140 over 90" {
		t.Errorf("Stop = %q, want %q", got, "BP is 140 over 90")
	}
	if calls := ref.Calls(); len(calls) != 1 || calls[0] != "BP is 140 over 90" {
		t.Errorf("refiner calls = %q, want the joined transcript once", calls)
	}
	if sess.Closes() == 0 {
		t.Error("stt session was not closed")
	}
}

func TestCapture_ReturnsRefinedText(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := voice.New(&mock.Provider{Session: sess}, &fakeRefiner{out: "Severe LAD stenosis."})
	c := start(t, p, nil)

	sess.FinalsCh <- final("um severe lad stenosis")

	got, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got != "Severe LAD stenosis." {
		t.Errorf("Stop = %q, want refined text", got)
	}
}

func TestCapture_RefinerFailureFallsBackToRaw(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := voice.New(&mock.Provider{Session: sess}, &fakeRefiner{err: errors.New("llm down")})
	c := start(t, p, nil)

	sess.FinalsCh <- final("  mild disease ")

	got, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got != "mild disease" {
		t.Errorf("Stop = %q, want trimmed raw transcript", got)
	}
}

func TestCapture_EmptyTranscriptSkipsRefiner(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	ref := &fakeRefiner{}
	p := voice.New(&mock.Provider{Session: sess}, ref)
	c := start(t, p, nil)

	sess.PartialsCh <- partial("uh")

	got, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got != "" {
		t.Errorf("Stop = %q, want empty", got)
	}
	if n := len(ref.Calls()); n != 0 {
		t.Errorf("refiner calls = %d, want 0", n)
	}
}

func TestCapture_NilRefinerUsesJoinedText(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	c := start(t, voice.New(&mock.Provider{Session: sess}, nil), nil)
	sess.FinalsCh <- final("RCA")
	sess.FinalsCh <- final("occluded")

	got, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got != "RCA occluded" {
		t.Errorf("Stop = %q, want %q", got, "RCA occluded")
	}
}

func TestCapture_BackendFailureAborts(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	ref := &fakeRefiner{}
	p := voice.New(&mock.Provider{Session: sess}, ref)

	failed := make(chan error, 1)
	c := start(t, p, func(err error) { failed <- err })

	sess.FinalsCh <- final("partial dictation")
	backendErr := errors.New("socket reset")
	sess.ErrCh <- backendErr

	select {
	case err := <-failed:
		if !errors.Is(err, backendErr) {
			t.Errorf("onError got %v, want %v", err, backendErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onError was not called")
	}

	if _, err := c.Stop(context.Background()); !errors.Is(err, voice.ErrAborted) {
		t.Errorf("Stop err = %v, want ErrAborted", err)
	}
	if !errors.Is(c.Err(), backendErr) {
		t.Errorf("Err = %v, want %v", c.Err(), backendErr)
	}
	if n := len(c.Segments()); n != 0 {
		t.Errorf("segments = %d, want discarded", n)
	}
	if n := len(ref.Calls()); n != 0 {
		t.Errorf("refiner calls = %d, want 0 after abort", n)
	}
	if err := c.SendAudio([]byte{1, 2}); !errors.Is(err, voice.ErrAborted) {
		t.Errorf("SendAudio err = %v, want ErrAborted", err)
	}
	select {
	case <-sess.Closed():
	case <-time.After(2 * time.Second):
		t.Error("stt session was not closed after failure")
	}
}

func TestCapture_AbortDiscards(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	ref := &fakeRefiner{}
	called := make(chan struct{}, 1)
	c := start(t, voice.New(&mock.Provider{Session: sess}, ref), func(error) { called <- struct{}{} })

	sess.FinalsCh <- final("LAD")
	c.Abort()
	c.Abort()

	if _, err := c.Stop(context.Background()); !errors.Is(err, voice.ErrAborted) {
		t.Errorf("Stop err = %v, want ErrAborted", err)
	}
	if n := len(ref.Calls()); n != 0 {
		t.Errorf("refiner calls = %d, want 0", n)
	}
	select {
	case <-called:
		t.Error("onError called on explicit abort")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCapture_SendAudioAndStopTwice(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	c := start(t, voice.New(&mock.Provider{Session: sess}, nil), nil)

	if err := c.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := sess.AudioChunks(); got != 1 {
		t.Errorf("audio chunks = %d, want 1", got)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, voice.ErrStopped) {
		t.Errorf("second Stop err = %v, want ErrStopped", err)
	}
	if err := c.SendAudio([]byte{0}); !errors.Is(err, voice.ErrStopped) {
		t.Errorf("SendAudio after Stop err = %v, want ErrStopped", err)
	}
}

func TestPipeline_StartUnavailable(t *testing.T) {
	t.Parallel()

	p := voice.New(nil, nil)
	if p.Available() {
		t.Error("Available = true without provider")
	}
	if _, err := p.Start(context.Background(), nil); !errors.Is(err, voice.ErrCaptureUnavailable) {
		t.Errorf("Start err = %v, want ErrCaptureUnavailable", err)
	}

	startErr := errors.New("no microphone permission")
	p = voice.New(&mock.Provider{StartStreamErr: startErr}, nil)
	_, err := p.Start(context.Background(), nil)
	if !errors.Is(err, voice.ErrCaptureUnavailable) || !errors.Is(err, startErr) {
		t.Errorf("Start err = %v, want both ErrCaptureUnavailable and the backend error", err)
	}
}

func TestPipeline_ForwardsStreamConfig(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{}
	cfg := stt.StreamConfig{SampleRate: 48000, Channels: 1, Language: "en-IN", Keywords: []string{"LAD", "RCA"}}
	p := voice.New(prov, nil, voice.WithStreamConfig(cfg))

	c := start(t, p, nil)
	defer c.Abort()

	if prov.CallCount() != 1 {
		t.Fatalf("StartStream calls = %d, want 1", prov.CallCount())
	}
	got := prov.StartStreamCalls[0].Cfg
	if got.SampleRate != 48000 || got.Language != "en-IN" || len(got.Keywords) != 2 {
		t.Errorf("StreamConfig = %+v, want %+v", got, cfg)
	}
}

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"BP is", "140 over 90"}, "BP is 140 over 90"},
		{[]string{" leading", "trailing "}, "leading trailing"},
	}
	for _, tc := range tests {
		if got := voice.JoinSegments(tc.in); got != tc.want {
			t.Errorf("JoinSegments(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAppendTranscript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		existing, cleaned, want string
	}{
		{"", "LAD 80%", "LAD 80%"},
		{"Mild plaque.", "LAD 80%", "Mild plaque. LAD 80%"},
		{"Mild plaque. ", "LAD 80%", "Mild plaque. LAD 80%"},
		{"Mild plaque.\n", "LAD 80%", "Mild plaque.\nLAD 80%"},
		{"Mild plaque.", "", "Mild plaque."},
	}
	for _, tc := range tests {
		if got := voice.AppendTranscript(tc.existing, tc.cleaned); got != tc.want {
			t.Errorf("AppendTranscript(%q, %q) = %q, want %q", tc.existing, tc.cleaned, got, tc.want)
		}
	}
}
