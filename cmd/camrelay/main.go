package main

import (
	"github.com/camrelay/camrelay/cmd/camrelay/commands"
)

func main() {
	commands.Execute()
}
