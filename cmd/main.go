package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func init() {
	os.Setenv("GOTRACEBACK", "crash")
}

func main() {
	app := NewApp()

	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "go-vfs: %v\n", err)
		os.Exit(exitCode(err))
	}
}
