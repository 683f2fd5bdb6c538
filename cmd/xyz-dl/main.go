package main

import (
	"github.com/shiquda/xyz-dl/cmd/xyz-dl/cmd"
)

func main() {
	cmd.Execute()
}
