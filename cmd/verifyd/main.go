package main

import (
	"log"

	"github.com/gigharbour/phonefactor/internal/verify/app"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize verifyd: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("verifyd error: %v", err)
	}
}
