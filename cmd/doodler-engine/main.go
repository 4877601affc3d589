package main

import "github.com/ironsheep/doodler-engine/cmd/doodler-engine/cmd"

func main() {
	cmd.Execute()
}
