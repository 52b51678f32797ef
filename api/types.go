package api

import (
	"fmt"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
)

const (
	// OriginHeader carries the sender identity of helper-to-helper requests on
	// connections without client certificates.
	OriginHeader = "X-Origin"

	// QueryBasePath prefixes every query route.
	QueryBasePath = "/query"

	EchoPath = "/echo"
)

// CreateQueryPath is the ReceiveQuery route.
func CreateQueryPath() string { return QueryBasePath }

// QueryPath addresses PrepareQuery (POST) and QueryStatus (GET).
func QueryPath(queryID interfaces.QueryID) string {
	return fmt.Sprintf("%s/%s", QueryBasePath, queryID)
}

func QueryInputPath(queryID interfaces.QueryID) string {
	return QueryPath(queryID) + "/input"
}

func CompleteQueryPath(queryID interfaces.QueryID) string {
	return QueryPath(queryID) + "/complete"
}

func KillQueryPath(queryID interfaces.QueryID) string {
	return QueryPath(queryID) + "/kill"
}

// StepPath addresses the Records route for (queryID, g).
func StepPath(queryID interfaces.QueryID, g gate.Gate) string {
	return fmt.Sprintf("%s/step/%s", QueryPath(queryID), g)
}

// EchoResponse reflects a request back to the caller, for connectivity checks.
type EchoResponse struct {
	QueryParams map[string]string `json:"query_params"`
	Headers     map[string]string `json:"headers"`
	// Origin is the peer identity the server resolved, empty for clients.
	Origin string `json:"origin,omitempty"`
}
