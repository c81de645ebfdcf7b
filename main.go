package main

import "mailroom/cmd"

func main() {
	cmd.Execute()
}
