package main

import "github.com/phitk/render/internal/cli"

func main() {
	cli.Execute()
}
