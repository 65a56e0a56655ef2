package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/services"
	"avsrt/internal/services/retry"
)

type upperTranslator struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	err     error
}

func (u *upperTranslator) Translate(_ context.Context, texts []string, _, _ string) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.batches = append(u.batches, append([]string(nil), texts...))
	if u.err != nil {
		return nil, u.err
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = "T:" + text
	}
	return out, nil
}

func noSleep() retry.Policy {
	return retry.Policy{Attempts: 3, Sleeper: func(time.Duration) {}}
}

func TestGoogleTranslateBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm["q"]; !reflect.DeepEqual(got, []string{"こんにちは", "さようなら"}) {
			t.Errorf("unexpected q values %q", got)
		}
		if r.PostForm.Get("source") != "ja" || r.PostForm.Get("target") != "zh-TW" {
			t.Errorf("unexpected languages %v", r.PostForm)
		}
		if r.PostForm.Get("format") != "text" || r.PostForm.Get("key") != "secret" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		fmt.Fprint(w, `{"data":{"translations":[{"translatedText":"你好 &amp; 歡迎"},{"translatedText":"再見"}]}}`)
	}))
	defer server.Close()

	g := NewGoogle(server.URL, "secret", time.Second, WithRetryPolicy(noSleep()))
	got, err := g.Translate(context.Background(), []string{"こんにちは", "さようなら"}, "ja", "zh-TW")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := []string{"你好 & 歡迎", "再見"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Translate = %q, want %q", got, want)
	}
}

func TestGoogleRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":{"translations":[{"translatedText":"ok"}]}}`)
	}))
	defer server.Close()

	g := NewGoogle(server.URL, "secret", time.Second, WithRetryPolicy(noSleep()))
	if _, err := g.Translate(context.Background(), []string{"x"}, "ja", "en"); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGoogleAuthFailureIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key not valid"}}`)
	}))
	defer server.Close()

	g := NewGoogle(server.URL, "bad", time.Second, WithRetryPolicy(noSleep()))
	_, err := g.Translate(context.Background(), []string{"x"}, "ja", "en")
	if !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("expected auth hint, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestGoogleCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"translations":[]}}`)
	}))
	defer server.Close()

	g := NewGoogle(server.URL, "secret", time.Second, WithRetryPolicy(noSleep()))
	if _, err := g.Translate(context.Background(), []string{"x"}, "ja", "en"); !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
}

type stubCompleter struct {
	reply  string
	err    error
	prompt string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	s.prompt = userPrompt
	return s.reply, s.err
}

func TestLLMTranslate(t *testing.T) {
	stub := &stubCompleter{reply: "```json\n{\"translations\":[\"Hello\",\"Bye\"]}\n```"}
	got, err := NewLLM(stub).Translate(context.Background(), []string{"こんにちは", "さようなら"}, "ja", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Hello", "Bye"}) {
		t.Fatalf("unexpected translations %q", got)
	}
	if !strings.Contains(stub.prompt, `"source":"Japanese"`) || !strings.Contains(stub.prompt, "こんにちは") {
		t.Fatalf("unexpected prompt %s", stub.prompt)
	}
}

func TestLLMTranslateLengthMismatch(t *testing.T) {
	stub := &stubCompleter{reply: `{"translations":["only one"]}`}
	_, err := NewLLM(stub).Translate(context.Background(), []string{"a", "b"}, "ja", "en")
	if !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
}

func TestNewWithoutCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Translate.APIKey = ""
	if _, err := New(&cfg); !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
	cfg.Translate.APIKey = "key"
	tr, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := tr.(*Google); !ok {
		t.Fatalf("expected google backend, got %T", tr)
	}
}

func TestKeyUsesNFC(t *testing.T) {
	composed := "\u304c"
	decomposed := "\u304b\u3099"
	if Key(composed) != Key(decomposed) {
		t.Fatal("expected NFC-equivalent texts to share a key")
	}
	if Key("a") == Key("b") {
		t.Fatal("distinct texts share a key")
	}
}

func TestCacheLookupOrTranslate(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	cache, err := OpenCache(store, "ja", "en", map[string]string{"backend": "test"})
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	calls := 0
	fn := func(_ context.Context, text string) (string, error) {
		calls++
		return "T:" + text, nil
	}
	for range 3 {
		got, err := cache.LookupOrTranslate(context.Background(), "猫", fn)
		if err != nil || got != "T:猫" {
			t.Fatalf("LookupOrTranslate = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected backend invoked once, got %d", calls)
	}
	hits, misses, _ := cache.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("unexpected stats hits=%d misses=%d", hits, misses)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenCache(store, "ja", "en", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got, ok := reopened.Lookup("猫"); !ok || got != "T:猫" {
		t.Fatalf("expected persisted entry, got %q %v", got, ok)
	}
}

func TestCacheResolveBatchesMissesOnce(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	cache, err := OpenCache(store, "ja", "en", nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()
	if _, err := cache.LookupOrTranslate(context.Background(), "a", func(context.Context, string) (string, error) {
		return "cached-a", nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tr := &upperTranslator{}
	texts := []string{"a", "b", "c", "b", "d", "e"}
	got, err := cache.Resolve(context.Background(), texts, tr, "ja", "en", 2, 2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"cached-a", "T:b", "T:c", "T:b", "T:d", "T:e"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
	sent := 0
	for _, batch := range tr.batches {
		if len(batch) > 2 {
			t.Fatalf("batch larger than 2: %q", batch)
		}
		sent += len(batch)
	}
	if sent != 4 || tr.calls != 2 {
		t.Fatalf("expected 4 unique misses in 2 batches, got %d in %d", sent, tr.calls)
	}

	again, err := cache.Resolve(context.Background(), texts, tr, "ja", "en", 2, 2)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !reflect.DeepEqual(again, want) || tr.calls != 2 {
		t.Fatalf("second resolve should be served from cache, calls=%d", tr.calls)
	}
}

func TestCacheResolveFailureKeepsNothingPartial(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	cache, err := OpenCache(store, "ja", "en", nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()
	failure := services.Wrap(services.ErrTranslation, "translate", "google", "authentication failed", nil)
	_, err = cache.Resolve(context.Background(), []string{"x"}, &upperTranslator{err: failure}, "ja", "en", 10, 1)
	if !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestOpenCacheSkipsCorruptLines(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	good := fmt.Sprintf(`{"hash":%q,"source_text":"犬","translated_text":"dog"}`, Key("犬"))
	data := good + "\n" + `{"hash":"bogus","source_text":"猫","translated_text":"cat"}` + "\n" + `{"hash":`
	if err := os.WriteFile(store.Path(CacheName("ja", "en")), []byte(data), 0o644); err != nil {
		t.Fatalf("write cache: %v", err)
	}
	cache, err := OpenCache(store, "ja", "en", nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()
	if cache.Len() != 1 {
		t.Fatalf("expected 1 valid entry, got %d", cache.Len())
	}
	if _, _, skipped := cache.Stats(); skipped != 1 {
		t.Fatalf("expected 1 skipped line, got %d", skipped)
	}
}

func TestRunMapsBlocks(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	source := artifact.SubtitleBlocks{
		{BlockID: 1, StartMS: 0, EndMS: 1500, Lines: []string{"こんにちは"}, Text: "こんにちは", SourceSegmentIDs: []int{0}},
		{BlockID: 2, StartMS: 2000, EndMS: 4000, Lines: []string{"さようなら"}, Text: "さようなら", SourceSegmentIDs: []int{1, 2}},
	}
	if err := store.WriteJSON(artifact.NormalizedName, source); err != nil {
		t.Fatalf("write blocks: %v", err)
	}
	cache, err := OpenCache(store, "ja", "en", nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	blocks, err := Run(context.Background(), Params{
		Store:        store,
		Cache:        cache,
		Translator:   &upperTranslator{},
		Source:       "ja",
		Target:       "en",
		BatchSize:    100,
		Workers:      2,
		CharsPerLine: 22,
		MaxLines:     2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Text != "T:さようなら" || blocks[1].StartMS != 2000 {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
	if !reflect.DeepEqual(blocks[1].SourceSegmentIDs, []int{1, 2}) {
		t.Fatalf("source ids not kept: %+v", blocks[1])
	}
	var stored artifact.SubtitleBlocks
	if err := store.ReadJSON(artifact.TranslatedBlocksName("en"), &stored); err != nil {
		t.Fatalf("read translated blocks: %v", err)
	}
	if !reflect.DeepEqual(stored, blocks) {
		t.Fatalf("stored %+v differs from %+v", stored, blocks)
	}
}

func TestMapBlocksRewrapsLongTranslations(t *testing.T) {
	source := artifact.SubtitleBlocks{{BlockID: 1, StartMS: 0, EndMS: 1000, Lines: []string{"短い"}, Text: "短い"}}
	blocks, err := MapBlocks(source, []string{"this translation is much longer than the source"}, 10, 2)
	if err != nil {
		t.Fatalf("MapBlocks: %v", err)
	}
	if n := len(blocks[0].Lines); n == 0 || n > 2 {
		t.Fatalf("expected 1-2 lines, got %q", blocks[0].Lines)
	}
	if _, err := MapBlocks(source, []string{"  "}, 10, 2); !errors.Is(err, services.ErrTranslation) {
		t.Fatalf("expected ErrTranslation for empty translation, got %v", err)
	}
}
