// Command depengine runs the dependency-engine runtime's reference CLI: a
// demo driver for the specification's own S1-S6 scenarios, and a serve
// mode that boots the scheduler behind a gRPC health check.
package main

import (
	"github.com/parallux/depengine/cmd/depengine/cmd"
)

func main() {
	cmd.Execute()
}
