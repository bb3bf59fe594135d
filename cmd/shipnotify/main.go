package main

import (
	"os"

	"github.com/shipdesk/shipnotify/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
