// Package server hosts the Fiber HTTP service that fronts the offline cache
// worker. Every request outside the /-/ diagnostics prefix is turned into a
// worker.Request and handed to the host, which decides between cache, network,
// passthrough and the offline document. The request-ID middleware and panic
// recovery live here; control endpoints are registered by server/routes.
package server
