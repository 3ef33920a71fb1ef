// Package transport provides the resilient HTTP call path every outbound
// marketplace request goes through.
//
// A single Call:
//   - serves GET requests from a short-lived response cache when possible
//   - waits for the process-wide rate limiter (minimum spacing between requests)
//   - bounds each attempt with its own timeout
//   - retries failed attempts with capped exponential backoff (2s, 4s, 8s, 16s, 30s...)
//
// Calls that exhaust their retries increment a consecutive-exhaustion counter
// shared by the whole Client. Any successful attempt resets it; crossing the
// fatal threshold terminates the process, since at that point the session
// credential or the network is assumed to be gone.
package transport
