package main

import (
	"github.com/otaviootavio/nanomoni/internal/cli"
)

func main() {
	cli.Execute()
}
