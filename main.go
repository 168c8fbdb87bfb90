package main

import (
	"github.com/silencex/silencex/cmd"
)

func main() {
	cmd.Execute()
}
