// main executable.
package main

import (
	"os"

	"github.com/relaycore/relaycore/internal/server"
)

var version = "1.0.0"

func main() {
	s, ok := server.New(version, os.Args[1:])
	if !ok {
		os.Exit(1)
	}
	s.Wait()
}
