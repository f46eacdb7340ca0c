package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/persona"
	"github.com/kotoba-ai/kotoba/internal/realtime"
	"github.com/kotoba-ai/kotoba/internal/vocab"
	"github.com/kotoba-ai/kotoba/pkg/Logger"
	"github.com/kotoba-ai/kotoba/pkg/audio"
)

type fakeClient struct {
	mu          sync.Mutex
	state       string
	interrupts  int
	disconnects int
	submitted   int
	sentTexts   []string

	turns      chan realtime.Turn
	modelAudio chan realtime.AudioDelta
	errs       chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		state:      realtime.StateDisconnected,
		turns:      make(chan realtime.Turn, 16),
		modelAudio: make(chan realtime.AudioDelta, 16),
		errs:       make(chan error, 4),
	}
}

func (f *fakeClient) Connect(ctx context.Context, apiKey string, p persona.Persona) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if apiKey == "bad-key" {
		return realtime.ErrAuth
	}
	f.state = realtime.StateConnectedIdle
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = realtime.StateDisconnected
	return nil
}

func (f *fakeClient) SubmitAudio(frame audio.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	return nil
}

func (f *fakeClient) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, text)
	return nil
}

func (f *fakeClient) Interrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != realtime.StateStreamingModelAudio {
		return false
	}
	f.interrupts++
	f.state = realtime.StateStreamingUserAudio
	return true
}

func (f *fakeClient) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) setState(s string) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeClient) Turns() <-chan realtime.Turn            { return f.turns }
func (f *fakeClient) ModelAudio() <-chan realtime.AudioDelta { return f.modelAudio }
func (f *fakeClient) Errors() <-chan error                   { return f.errs }

type fakeAudio struct {
	mu      sync.Mutex
	frames  chan audio.Frame
	played  [][]byte
	flushes int
	stops   int
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{frames: make(chan audio.Frame, 64)}
}

func (f *fakeAudio) StartCapture(ctx context.Context) (<-chan audio.Frame, error) {
	return f.frames, nil
}

func (f *fakeAudio) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeAudio) Play(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, data)
	return nil
}

func (f *fakeAudio) FlushPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeAudio) Close() error { return nil }

func (f *fakeAudio) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// mapAnalyzer returns canned candidates per fragment.
type mapAnalyzer struct {
	mu      sync.Mutex
	results map[string][]vocab.Candidate
	failOn  string
	delay   time.Duration
}

func (a *mapAnalyzer) Analyze(ctx context.Context, fragment string, contextTurns []string) ([]vocab.Candidate, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failOn != "" && fragment == a.failOn {
		return nil, &vocab.AnalysisError{Fragment: fragment, Err: errors.New("upstream error")}
	}
	return a.results[fragment], nil
}

func testSettings() *config.Settings {
	return &config.Settings{
		Analyzer: config.AnalyzerConfig{
			MaxConcurrent:  2,
			RequestTimeout: time.Second,
			ContextTurns:   4,
		},
		TurnDetect: config.TurnDetectConfig{
			Threshold:         0.02,
			MinSpeechMs:       40,
			TrailingSilenceMs: 100,
		},
	}
}

func testOrchestrator(t *testing.T, client *fakeClient, analyzer vocab.Analyzer) (*Orchestrator, *fakeAudio) {
	reg := persona.DefaultRegistry()
	fa := newFakeAudio()
	o := New(testSettings(), Dependencies{
		NewClient: func() SessionClient { return client },
		Audio:     fa,
		Analyzer:  analyzer,
		Personas:  reg,
	}, Logger.New(false))
	t.Cleanup(func() { o.Disconnect() })
	return o, fa
}

func modelTurn(text string) realtime.Turn {
	return realtime.Turn{
		ID:         uuid.New(),
		Role:       realtime.RoleModel,
		Transcript: text,
		State:      realtime.TurnClosed,
		EndedAt:    time.Now(),
	}
}

func userTurn(text string) realtime.Turn {
	return realtime.Turn{
		ID:         uuid.New(),
		Role:       realtime.RoleUser,
		Transcript: text,
		State:      realtime.TurnClosed,
		EndedAt:    time.Now(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestConnectAndAnalyzeTurn(t *testing.T) {
	client := newFakeClient()
	analyzer := &mapAnalyzer{results: map[string][]vocab.Candidate{
		"日本語を勉強しています": {
			{Surface: "日本語", Reading: "にほんご", MeaningKR: "일본어", Level: vocab.LevelN5},
			{Surface: "勉強", Reading: "べんきょう", MeaningKR: "공부", Level: vocab.LevelN4},
		},
	}}
	o, _ := testOrchestrator(t, client, analyzer)

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.Connect(context.Background(), "good-key", ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Second connect should fail with ErrAlreadyConnected, got %v", err)
	}

	// the learner's own speech yields vocabulary too
	client.turns <- userTurn("日本語を勉強しています")

	waitFor(t, "vocabulary entries", func() bool {
		return len(o.Vocabulary(vocab.LevelUnclassified)) == 2
	})
	entries := o.Vocabulary(vocab.LevelUnclassified)
	if entries[0].Surface != "日本語" || entries[1].Surface != "勉強" {
		t.Errorf("Unexpected entries: %+v", entries)
	}
	if len(o.Transcript()) != 1 {
		t.Errorf("Expected 1 transcript entry, got %d", len(o.Transcript()))
	}
}

func TestRepeatedWordMergesAcrossTurns(t *testing.T) {
	client := newFakeClient()
	benkyou := vocab.Candidate{Surface: "勉強", Reading: "べんきょう", MeaningKR: "공부", Level: vocab.LevelN4}
	analyzer := &mapAnalyzer{results: map[string][]vocab.Candidate{
		"毎日勉強します":  {benkyou},
		"勉強は大切ですよ": {benkyou},
	}}
	o, _ := testOrchestrator(t, client, analyzer)

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	turn1 := modelTurn("毎日勉強します")
	turn5 := modelTurn("勉強は大切ですよ")
	client.turns <- turn1
	client.turns <- turn5

	waitFor(t, "merged entry", func() bool {
		entries := o.Vocabulary(vocab.LevelUnclassified)
		return len(entries) == 1 && entries[0].Count == 2
	})
	entry := o.Vocabulary(vocab.LevelUnclassified)[0]
	if len(entry.Provenance) != 2 {
		t.Fatalf("Expected provenance from both turns, got %v", entry.Provenance)
	}
	seen := map[uuid.UUID]bool{entry.Provenance[0]: true, entry.Provenance[1]: true}
	if !seen[turn1.ID] || !seen[turn5.ID] {
		t.Errorf("Provenance %v missing turn ids %s / %s", entry.Provenance, turn1.ID, turn5.ID)
	}
}

func TestAnalysisErrorIsContained(t *testing.T) {
	client := newFakeClient()
	analyzer := &mapAnalyzer{
		failOn: "聞き取れませんでした",
		results: map[string][]vocab.Candidate{
			"天気がいいですね": {{Surface: "天気", Reading: "てんき", MeaningKR: "날씨", Level: vocab.LevelN5}},
			"映画が好きです":  {{Surface: "映画", Reading: "えいが", MeaningKR: "영화", Level: vocab.LevelN5}},
		},
	}
	o, _ := testOrchestrator(t, client, analyzer)

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.turns <- modelTurn("天気がいいですね")
	client.turns <- modelTurn("聞き取れませんでした")
	client.turns <- modelTurn("映画が好きです")

	waitFor(t, "entries from surviving turns", func() bool {
		return len(o.Vocabulary(vocab.LevelUnclassified)) == 2
	})
	for _, e := range o.Vocabulary(vocab.LevelUnclassified) {
		if e.Surface != "天気" && e.Surface != "映画" {
			t.Errorf("Unexpected entry %s", e.Surface)
		}
	}

	// the failed turn still reaches the conversation log
	waitFor(t, "transcript entries", func() bool { return len(o.Transcript()) == 3 })
	found := false
	for _, entry := range o.Transcript() {
		if entry.Text == "聞き取れませんでした" {
			found = true
		}
	}
	if !found {
		t.Error("Failed turn missing from transcript")
	}
}

func TestBargeInFlushesPlayback(t *testing.T) {
	client := newFakeClient()
	o, fa := testOrchestrator(t, client, &mapAnalyzer{})

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.StartConversation(); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	client.setState(realtime.StateStreamingModelAudio)

	// sustained loud frames trip the local detector
	loud := make([]byte, 960)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x20 // 8192
	}
	for i := 0; i < 10; i++ {
		fa.frames <- audio.Frame{
			Seq:        uint64(i),
			Direction:  audio.Capture,
			Data:       loud,
			Timestamp:  time.Now(),
			SampleRate: 24000,
			Channels:   1,
		}
	}

	waitFor(t, "barge-in flush", func() bool { return fa.flushCount() > 0 })
	client.mu.Lock()
	interrupts := client.interrupts
	client.mu.Unlock()
	if interrupts != 1 {
		t.Errorf("Expected exactly one interrupt, got %d", interrupts)
	}
	if client.State() != realtime.StateStreamingUserAudio {
		t.Errorf("Expected streaming_user_audio after barge-in, got %s", client.State())
	}
}

func TestModelAudioReachesPlayback(t *testing.T) {
	client := newFakeClient()
	o, fa := testOrchestrator(t, client, &mapAnalyzer{})

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.modelAudio <- realtime.AudioDelta{ResponseID: "r1", Data: []byte{1, 2, 3}}

	waitFor(t, "playback", func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return len(fa.played) == 1
	})
}

func TestDisconnectIdempotentAndDiscardsLateResults(t *testing.T) {
	client := newFakeClient()
	analyzer := &mapAnalyzer{
		delay: 150 * time.Millisecond,
		results: map[string][]vocab.Candidate{
			"天気がいいですね": {{Surface: "天気", Reading: "てんき", MeaningKR: "날씨", Level: vocab.LevelN5}},
		},
	}
	o, _ := testOrchestrator(t, client, analyzer)

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.turns <- modelTurn("天気がいいですね")
	time.Sleep(30 * time.Millisecond) // analysis in flight

	if err := o.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := o.Disconnect(); err != nil {
		t.Errorf("Second disconnect should be a no-op, got %v", err)
	}
	client.mu.Lock()
	disconnects := client.disconnects
	client.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("Expected 1 client disconnect, got %d", disconnects)
	}

	// the in-flight analysis completes but belongs to a dead session
	time.Sleep(300 * time.Millisecond)
	if got := len(o.Vocabulary(vocab.LevelUnclassified)); got != 0 {
		t.Errorf("Late analysis results should be discarded, got %d entries", got)
	}
}

func TestStopConversationKeepsSession(t *testing.T) {
	client := newFakeClient()
	o, fa := testOrchestrator(t, client, &mapAnalyzer{})

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.StartConversation(); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if err := o.StopConversation(); err != nil {
		t.Fatalf("StopConversation failed: %v", err)
	}

	fa.mu.Lock()
	stops := fa.stops
	fa.mu.Unlock()
	if stops != 1 {
		t.Errorf("Expected capture stopped once, got %d", stops)
	}
	if o.State() != realtime.StateConnectedIdle {
		t.Errorf("Session should stay connected, got %s", o.State())
	}

	// stop again is a no-op
	if err := o.StopConversation(); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestClearSessionKeepsConnection(t *testing.T) {
	client := newFakeClient()
	analyzer := &mapAnalyzer{results: map[string][]vocab.Candidate{
		"先生に質問しました": {
			{Surface: "質問", Reading: "しつもん", MeaningKR: "질문", Level: vocab.LevelN4},
		},
	}}
	o, _ := testOrchestrator(t, client, analyzer)

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.turns <- modelTurn("先生に質問しました")
	waitFor(t, "vocabulary entries", func() bool {
		return len(o.Vocabulary(vocab.LevelUnclassified)) == 1
	})

	o.ClearSession()

	if got := len(o.Vocabulary(vocab.LevelUnclassified)); got != 0 {
		t.Errorf("Expected empty vocabulary after clear, got %d entries", got)
	}
	if got := len(o.Transcript()); got != 0 {
		t.Errorf("Expected empty transcript after clear, got %d entries", got)
	}
	if o.State() != realtime.StateConnectedIdle {
		t.Errorf("Session should stay connected, got %s", o.State())
	}

	// the same fragment is analyzable again after a clear
	client.turns <- modelTurn("先生に質問しました")
	waitFor(t, "re-analyzed entry", func() bool {
		return len(o.Vocabulary(vocab.LevelUnclassified)) == 1
	})
}

func TestSendTextRequiresSession(t *testing.T) {
	client := newFakeClient()
	o, _ := testOrchestrator(t, client, &mapAnalyzer{})

	if err := o.SendText("やあ"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}

	if err := o.Connect(context.Background(), "good-key", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := o.SendText("こんにちは"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sentTexts) != 1 || client.sentTexts[0] != "こんにちは" {
		t.Errorf("Unexpected sent texts: %v", client.sentTexts)
	}
}
