package main

import "github.com/aweris/activitystore/cmd/activitystore/cmd"

func main() {
	cmd.Execute()
}
