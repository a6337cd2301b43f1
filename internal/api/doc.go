// Package api serves the read-only report API over the crawl database:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/composers and /v1/compositions for the raw rows.
//   - GET /v1/stats/... for table counts, top-N values, word counts and
//     cross tabulations.
package api
