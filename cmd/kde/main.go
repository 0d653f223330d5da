// Command kde estimates kernel densities from CSV point sets and selects
// bandwidths by cross-validation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kde: %v\n", err)
		os.Exit(1)
	}
}
