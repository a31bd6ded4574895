package main

import "github.com/nfrund/consoled/cmd/consoled/cmd"

func main() {
	cmd.Execute()
}
