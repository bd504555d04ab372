package main

import "github.com/oshokin/priv-updater/cmd/priv-updater/cmd"

func main() {
	cmd.Execute()
}
