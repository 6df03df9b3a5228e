package main

import (
	"github.com/luma/nt4/cmd"
)

func main() {
	cmd.Execute()
}
