package main

import "github.com/marcus/slotwise/cmd/slotwise/commands"

func main() {
	commands.Execute()
}
