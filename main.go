package main

import (
	"github.com/sidkik/mirrorsync/cmd"
	"github.com/sidkik/mirrorsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
