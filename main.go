package main

import "github.com/encodeous/meshlink/cmd"

func main() {
	cmd.Execute()
}
