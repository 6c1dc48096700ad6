/*
Package indexroutes serves HTTP endpoints that are configured as documents
in an Elasticsearch compatible index service.

The endpoint configurations are stored in the <context name>__endpoints
index. Every configuration document describes one endpoint: its path, the
index that the endpoint queries, and the constraints of the query. The
routes of the endpoints are kept in sync with the stored documents by a
periodic reconciliation, without restarting the server:

	configure → initialize (ensure the endpoint index) → start routing

On startup, the index manager makes sure that the endpoint index exists
and can be searched. It tolerates an index service that is not reachable
yet or is recovering its shards, retrying until the index is ready. Once
it is ready, the reconciler loads the endpoint configurations, installs a
route for each of them, and repeats the same on every interval: new
endpoints are added, changed endpoints get their handlers replaced in
place, and endpoints that were deleted from the index are removed.

Requests to the index service that are rejected because the service is
overloaded are retried with a widening random delay, without a limit on
the number of the retries.

The installed endpoints are served on the main listener (:9090 by
default). The support listener (:9911 by default) exposes the /metrics and
/health endpoints.

For the command line options, see the config package, or run:

	indexroutes -help
*/
package indexroutes
