package main

import (
	"github.com/gflze/gflbans/internal/cmd"
)

func main() {
	cmd.Execute()
}
