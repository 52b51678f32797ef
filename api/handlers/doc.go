/*
Package handlers turns HTTP requests into transport calls.

QueryHandler is a route registrar mounted on the helper's chi router. The ring
handler serves report collectors and peers; the shard handler only serves the
peer routes (PrepareQuery, Records) and Echo.

Records requests are not dispatched: their body is handed to the transport's
stream registry and the request stays open until the protocol code has read the
stream to the end. The 200 response is the acknowledgement the sender waits for;
410 means the stream was dropped unread, 409 that the stream was a duplicate.
A stream is registered at most once per query: a second Records request for the
same query, origin and gate gets 409 even after the first one was consumed. If
the sender disconnects before its stream is read, the stream is withdrawn and
may be sent again.

Peer routes require an identified origin. PeerIdentifier takes it from the
client certificate on TLS connections and from the X-Origin header otherwise.
*/
package handlers
