// Command hypertune runs sequential model-based hyper-parameter optimization,
// either as a one-off study from a file or as a long-running service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
