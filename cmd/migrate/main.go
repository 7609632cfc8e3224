package main

import (
	"fmt"
	"os"

	"github.com/vetlink/teleconsult/internal/config"
	"github.com/vetlink/teleconsult/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied")
}
