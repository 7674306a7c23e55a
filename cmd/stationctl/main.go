// Command stationctl is the operator CLI for a running station daemon.
package main

import "github.com/dim-network/station/cmd/stationctl/commands"

func main() {
	commands.Execute()
}
