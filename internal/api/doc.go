// Package api hosts the web UI and JSON API for the headline tracker.
// Notable routes:
//   - GET /profiles and POST /profiles for managing the tracked list.
//   - GET /run and POST /run for triggering a refresh run from the browser.
//   - GET /history.csv for downloading the full audit history.
//   - /api/... JSON equivalents for scripts.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
