package main

import (
	"fmt"
	"os"

	"github.com/nhle/coursedesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coursedesk:", err)
		os.Exit(1)
	}
}
