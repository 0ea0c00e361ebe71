// Command exitguard watches held positions and closes them when a
// stop-loss, take-profit or trailing stop fires.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
