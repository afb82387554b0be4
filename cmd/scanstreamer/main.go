package main

import "github.com/bryanchriswhite/ScanStreamer/cmd/scanstreamer/commands"

func main() {
	commands.Execute()
}
