/*
Package httpserver runs the helper's HTTP servers.

A Server wraps a chi router with the request logger from go-utils and mounts
the routes of its registrars (see api/handlers) next to the operational
endpoints:

	GET /livez     liveness
	GET /readyz    readiness, 503 while draining
	GET /drain     mark the server not ready
	GET /undrain   mark the server ready again
	/debug/*       pprof, when enabled

With a TLS config the server speaks HTTPS with HTTP/2 negotiated through ALPN;
without one it accepts HTTP/1.1 and cleartext HTTP/2 (h2c) on the same port.

A helper runs two servers: one for the ring and report collectors, and one for
the shards of the same helper. Only one of them serves the metrics endpoint.
*/
package httpserver
