package main

import "github.com/lockplane/lockshift/cmd"

func main() {
	cmd.Execute()
}
