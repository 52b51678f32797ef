/*
Package query runs queries on top of the ring transport.

Processor is the transport's request handler. The helper that receives a query
from a report collector becomes its leader: it assigns a fresh query id, orders
the roles starting with itself and prepares both followers before answering.
Every helper then takes its input share, runs the protocol in the background and
hands its output to the report collector on CompleteQuery.

The only protocol is relay: each helper sends its input records to the next
helper of the role order on gate protocol/relay and outputs the records it
receives from the previous one.
*/
package query
