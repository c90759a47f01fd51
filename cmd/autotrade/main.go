// Binary autotrade runs the realtime market data and strategy pipeline.
package main

import (
	"os"

	"github.com/suman-kim/auto-trade-server-sub000/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
