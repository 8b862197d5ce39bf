package main

import (
	"os"

	"github.com/stone-age-io/servicehost/cmd/servicehost/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
