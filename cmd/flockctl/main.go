// Command flockctl runs administrative tasks against a flock database:
// migrations, one-off member syncs, permission inspection and the expiry
// sweep.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
