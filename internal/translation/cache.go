package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"

	"avsrt/internal/artifact"
	"avsrt/internal/services"
	"avsrt/internal/workpool"
)

// Entry is one line of the translation cache.
type Entry struct {
	Hash            string            `json:"hash"`
	SourceText      string            `json:"source_text"`
	TranslatedText  string            `json:"translated_text"`
	BackendMetadata map[string]string `json:"backend_metadata,omitempty"`
}

// Validate rejects entries whose hash does not match their source text.
func (e *Entry) Validate() error {
	if e.Hash == "" {
		return errors.New("missing hash")
	}
	if Key(e.SourceText) != e.Hash {
		return fmt.Errorf("hash %s does not match source text", e.Hash)
	}
	return nil
}

// CacheName returns the cache file name for a language pair.
func CacheName(source, target string) string {
	return fmt.Sprintf("translation_cache.%s-%s.jsonl", source, target)
}

// Key is the sha256 hex digest of the NFC form of text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

// Cache maps normalized source text to its translation. Entries are only
// ever appended; the first translation recorded for a hash wins.
type Cache struct {
	log     *artifact.AppendLog[Entry]
	backend map[string]string

	mu      sync.Mutex
	entries map[string]string
	hits    int
	misses  int
	skipped int
}

// OpenCache loads the cache for source-target inside store. backend is
// recorded on every new entry.
func OpenCache(store *artifact.Store, source, target string, backend map[string]string) (*Cache, error) {
	cacheLog, err := artifact.OpenAppendLog[Entry](store.Path(CacheName(source, target)))
	if err != nil {
		return nil, services.Wrap(services.ErrWorkspace, "translate", "open cache", "", err)
	}
	loaded, skipped, err := cacheLog.Load()
	if err != nil {
		_ = cacheLog.Close()
		return nil, services.Wrap(services.ErrWorkspace, "translate", "load cache", "", err)
	}
	c := &Cache{
		log:     cacheLog,
		backend: backend,
		entries: make(map[string]string, len(loaded)),
		skipped: skipped,
	}
	for _, entry := range loaded {
		if _, ok := c.entries[entry.Hash]; !ok {
			c.entries[entry.Hash] = entry.TranslatedText
		}
	}
	return c, nil
}

// Close releases the cache file.
func (c *Cache) Close() error {
	return c.log.Close()
}

// Len returns the number of cached translations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns lookups served from the cache, texts sent to the backend,
// and cache lines skipped on load.
func (c *Cache) Stats() (hits, misses, skipped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.skipped
}

// Lookup returns the cached translation for text without counting it.
func (c *Cache) Lookup(text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	translated, ok := c.entries[Key(text)]
	return translated, ok
}

// LookupOrTranslate returns the cached translation of text, or calls fn,
// appends its result, and returns it.
func (c *Cache) LookupOrTranslate(ctx context.Context, text string, fn func(context.Context, string) (string, error)) (string, error) {
	key := Key(text)
	c.mu.Lock()
	if translated, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return translated, nil
	}
	c.misses++
	c.mu.Unlock()

	translated, err := fn(ctx, text)
	if err != nil {
		return "", err
	}
	return c.record(key, text, translated)
}

// Resolve translates texts, sending only cache misses to tr. Misses are
// deduplicated, grouped into batches of batchSize and translated on up to
// workers goroutines; each result is appended as its batch completes, so an
// interrupted run keeps what it already paid for.
func (c *Cache) Resolve(ctx context.Context, texts []string, tr Translator, source, target string, batchSize, workers int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	keys := make([]string, len(texts))
	var pending []string
	queued := make(map[string]bool)

	c.mu.Lock()
	for i, text := range texts {
		keys[i] = Key(text)
		if text == "" {
			continue
		}
		if _, ok := c.entries[keys[i]]; ok || queued[keys[i]] {
			c.hits++
			continue
		}
		queued[keys[i]] = true
		pending = append(pending, text)
		c.misses++
	}
	c.mu.Unlock()

	batches := chunk(pending, batchSize)
	err := workpool.Run(ctx, len(batches), workers, func(ctx context.Context, i int) error {
		batch := batches[i]
		translated, err := tr.Translate(ctx, batch, source, target)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, services.ErrTranslation) {
				return err
			}
			return services.Wrap(services.ErrTranslation, "translate", "resolve", "", err)
		}
		if len(translated) != len(batch) {
			return services.Wrap(services.ErrTranslation, "translate", "resolve",
				fmt.Sprintf("backend returned %d results for %d texts", len(translated), len(batch)), nil)
		}
		for j, text := range batch {
			if _, err := c.record(Key(text), text, translated[j]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, text := range texts {
		if text == "" {
			continue
		}
		out[i] = c.entries[keys[i]]
	}
	return out, nil
}

// record appends a new entry unless the hash is already present, and returns
// the translation the cache holds for it.
func (c *Cache) record(key, source, translated string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	entry := Entry{
		Hash:            key,
		SourceText:      source,
		TranslatedText:  translated,
		BackendMetadata: c.backend,
	}
	if err := c.log.Append(entry); err != nil {
		return "", services.Wrap(services.ErrWorkspace, "translate", "append cache", "", err)
	}
	c.entries[key] = translated
	return translated, nil
}

func chunk(texts []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batches = append(batches, texts[start:end])
	}
	return batches
}
