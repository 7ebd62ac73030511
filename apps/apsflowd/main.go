package main

import "github.com/quatton/apsflow/apps/apsflowd/cmd"

func main() {
	cmd.Execute()
}
