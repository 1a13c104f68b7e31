package main

import "gotrack/cmd"

func main() {
	cmd.Execute()
}
