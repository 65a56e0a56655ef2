// Package translation produces the optional target-language subtitle blocks.
//
// Two backends implement Translator: Google Cloud Translation v2 (form POST,
// batched, HTML entities unescaped) and an OpenRouter chat model that
// answers with a JSON array. Both wrap failures in services.ErrTranslation,
// which the pipeline treats as non-fatal to the source-language output.
//
// Cache is an append-only JSONL file per language pair keyed by the sha256
// of the NFC-normalized source text. A text already present is never sent to
// the backend again, across any number of runs sharing the workspace.
package translation
