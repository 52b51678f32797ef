/*
Package clients provides the HTTP client for the helper API.

HelperClient covers both sides of the API:

  - peer calls, used by a helper's transport: Step streams records to a peer
    and PrepareQuery forwards a new query from the leader
  - report collector calls: CreateQuery, QueryInput, QueryStatus,
    CompleteQuery, KillQuery and Echo

Non-2xx responses are returned as *ResponseError carrying the status code and
the response body.

ForNetwork builds one client per peer of a network configuration, with TLS
settings pinned to each peer's certificate. HTTP/2 is used unless the network
configures http1, so every step stream to a peer shares one connection.
*/
package clients
