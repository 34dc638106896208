package main

import (
	"fmt"
	"os"
)

func main() {
	err := makeApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
