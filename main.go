package main

import "github.com/Chative-docs-assistant/server/cmd"

func main() {
	cmd.Execute()
}
