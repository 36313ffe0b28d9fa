package main

import "github.com/fakeyudi/tuick/cmd"

func main() {
	cmd.Execute()
}
