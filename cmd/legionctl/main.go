// Command legionctl talks to a running Legion control plane.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "legionctl:", err)
		os.Exit(1)
	}
}
