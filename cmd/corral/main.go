package main

import "github.com/agusx1211/corral/internal/cli"

func main() {
	cli.Execute()
}
