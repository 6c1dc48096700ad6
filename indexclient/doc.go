/*
Package indexclient implements a client for an Elasticsearch compatible
index service.

The client supports the operations needed to manage and read the index of
the endpoint configurations: checking whether an index exists, creating
it with a mapping, reading its recovery status and searching it.

Errors returned by the index service are classified. One kind of error is
retriable: the service rejecting the execution of a request because its
queues are full (es_rejected_execution_exception). These requests are
retried with a jittered, widening delay, without a limit on the number of
attempts, until the condition stops recurring or the context is canceled.
Search responses with failed shards are retried only when every failed
shard reports the rejection. Every other error is returned to the caller,
and ErrorMessage can be used to get its normalized message.

The delay before a retry is drawn from a window, starting with 5 to 10
seconds. After each retry of the same operation, the start of the window
grows by 5 seconds up to 30 seconds, and the end of the window grows by 10
seconds up to 60 seconds. Every operation starts with a new window.

Search results depend on the query: when the size of the query is 0, only
the total count of the matching documents is returned. Otherwise, when the
client was created with the FullResponse option, the raw response of the
index service is returned, or else the source documents of the hits.
*/
package indexclient
