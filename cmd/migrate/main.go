package main

import (
	"context"
	"log"

	"floradrop/internal/config"
	"floradrop/internal/database"
	"floradrop/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	applied, err := migrations.Apply(context.Background(), db)
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	log.Printf("migrations applied: %d", applied)
}
