// Command walletctl administers SparkCards classes and passes from a terminal,
// using the same configuration environment as the server.
package main

import (
	"os"
)

func main() {
	if err := createRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
