// Package llm provides an OpenAI-compatible chat completions provider that
// streams text generations.
//
// # Configuration
//
// Requires api_key and model, optionally base_url, referer, title, timeout
// and max_retries. The default endpoint is OpenRouter.
//
// # Streaming
//
// Requests are sent with stream=true and the server-sent event body is parsed
// into provider.Stream chunks as it arrives. Servers that ignore the stream
// flag and answer with a plain JSON completion are tolerated; the content is
// delivered as a single chunk. The completion id becomes the provider job
// token and OpenRouter usage cost is reported when present.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s), honouring Retry-After. Retries only
// happen before the first chunk is delivered so streamed text is never
// duplicated. Context cancellation aborts retries immediately.
package llm
