/*
Package api defines the HTTP surface of a helper: route paths, headers and the
server configuration shared by its subpackages.

  - handlers - chi route registrars turning requests into transport calls
  - clients - HelperClient, used by helpers to reach peers and by report collectors

# Routes

	POST /query                        ReceiveQuery (report collector -> leader)
	POST /query/{query_id}             PrepareQuery (leader -> follower)
	POST /query/{query_id}/input       QueryInput
	GET  /query/{query_id}             QueryStatus
	GET  /query/{query_id}/complete    CompleteQuery
	POST /query/{query_id}/kill        KillQuery
	POST /query/{query_id}/step/{gate} Records (helper -> helper)
	GET  /echo                         connectivity check

Helper-to-helper requests identify their origin with a client certificate or,
on plaintext connections, the X-Origin header.
*/
package api
