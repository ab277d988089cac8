// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz counts documents to
//     prove the index is reachable.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs and /v1/sweeps to trigger a pipeline run or retention sweep.
//   - GET /v1/articles?q=&limit= and /v1/articles/{id} to read the index.
package api
