package main

import "github.com/snake-arena/internal/cli"

func main() {
	cli.Execute()
}
