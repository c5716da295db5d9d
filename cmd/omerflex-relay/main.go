// Package main is the entry point for the omerflex relay daemon.
package main

import (
	"log"
	"os"

	"github.com/alyabroudy1/omerFlex5-sub000/internal/app"
)

func main() {
	// Create and initialize application
	application, err := app.New()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	// Ensure cleanup on exit
	defer application.Shutdown()

	// Run the pipeline and relay proxy
	if err := application.Run(); err != nil {
		log.Printf("relay error: %v", err)
		os.Exit(1)
	}
}
