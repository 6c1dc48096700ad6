/*
Package reconciler keeps the route table equal to the endpoint
configurations stored in the index service.

A reconciliation pass loads all the configurations, compares them with
the configurations applied by the previous pass, and changes the route
table accordingly:

  - the routes of the endpoints that disappeared are removed
  - the handlers of the routes of the changed endpoints are replaced, the
    routes stay installed meanwhile
  - routes are installed for the new endpoints

When loading the configurations fails, the pass changes nothing, and the
next pass starts from the same state. Only one pass runs at a time, a pass
started while another one is running returns ErrPassInProgress without any
effect.

Run waits until the index is ready, executes the first pass, and then
starts a pass on every interval.
*/
package reconciler
