package main

import "github.com/devicehive/devicehive-server/cmd/devicehive-server/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
