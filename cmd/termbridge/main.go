package main

import "github.com/termbridge/termbridge/internal/cmd"

func main() {
	cmd.Execute()
}
