package main

import (
	"fmt"
	"os"

	"github.com/thrawn01/testid"
)

func main() {
	if err := testid.RunCmd(os.Args, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
