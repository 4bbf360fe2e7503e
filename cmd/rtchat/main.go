package main

import "github.com/mwhitfield/rtchat/internal/cli"

func main() {
	cli.Execute()
}
