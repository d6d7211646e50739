package main

import "github.com/viktsys/marketcache/cmd"

func main() {
	cmd.Execute()
}
