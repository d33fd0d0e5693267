package main

import (
	"fmt"
	"os"

	"capri/internal/ipc"
)

func main() {
	cmd := "trigger"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	reply, err := ipc.SendCommand(cmd)
	if err != nil {
		fmt.Println("capri-daemon not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Println("rejected:", reply.Detail)
		os.Exit(1)
	}
	if reply.Detail != "" {
		fmt.Println(reply.Detail)
	}
}
