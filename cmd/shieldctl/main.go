package main

import "github.com/vietddude/shield/internal/cli"

func main() {
	cli.Execute()
}
