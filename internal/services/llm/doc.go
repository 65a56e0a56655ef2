// Package llm provides an OpenRouter chat client used by the LLM translation
// backend and the doctor health check.
//
// CompleteJSON sends a system and user prompt with response_format
// json_object and returns the raw content. Some providers answer with the
// streaming delta schema, a legacy text field, or tool call arguments even
// for plain requests; all of those are accepted. DecodeLLMJSON strips code
// fences and surrounding prose before decoding.
//
// Retries follow the retry package policy: HTTP 408/429/5xx, network
// timeouts and empty completions are retried with exponential backoff (base
// 1s, max 10s, up to 5 attempts by default).
package llm
