/*
Package logging implements application log instrumentation and the access
log of the dynamically installed endpoints.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

Packages that run long-lived background work (the index client, the index
lifecycle manager, the reconciler) receive a Logger, so that tests can
capture and wait for entries (see the loggingtest package). Everything else
logs through the standard logrus logger:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
	    log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, set the level, switch to JSON
and set a common prefix for each log entry.

# Access Log

The access log prints HTTP access information of requests served by the
route table in the Apache combined access log format, extended with the
duration and the matched endpoint. To output entries, wrap a handler with
NewHandler, or call LogAccess directly.
*/
package logging
