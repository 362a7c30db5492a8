package main

import (
	"fmt"
	"os"
)

func main() {
	if err := (&app{}).execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
