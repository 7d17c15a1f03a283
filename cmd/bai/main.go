// bai - voice-assistant client
package main

import (
	"os"

	"github.com/ashureev/bai/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
