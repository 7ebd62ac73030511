package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/apsflow/apps/apsctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "apsctl crashed: %v\n", r)
			if os.Getenv("APS_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
