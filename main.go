package main

import "github.com/audiolibrelab/audiomemo/cmd"

func main() {
	cmd.Execute()
}
