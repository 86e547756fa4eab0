package main

import (
	"github.com/sidkik/amp/cmd"
	"github.com/sidkik/amp/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
