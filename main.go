package main

import "github.com/jmehdipour/tokengen/cmd"

func main() {
	cmd.Execute()
}
