// Command drainkitd is an HTTP service that drains in-flight requests and
// releases its resources in order when it is asked to stop.
package main

import "os"

// exitFunc is the function used by main to exit; tests can replace it.
var exitFunc = os.Exit

func main() {
	exitFunc(runApp(os.Args))
}
