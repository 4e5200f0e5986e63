package main

import "github.com/arannis-dev/qlock/cmd"

func main() {
	cmd.Execute()
}
