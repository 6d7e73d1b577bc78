package main

import (
	"fmt"
	"os"

	"github.com/jghoshh/habitgrove/backend"
	"github.com/jghoshh/habitgrove/frontend"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: habitgrove [backend|frontend]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "backend":
		backend.RunBackend()
	case "frontend":
		frontend.RunFrontend()
	default:
		fmt.Println("usage: habitgrove [backend|frontend]")
		os.Exit(1)
	}
}
