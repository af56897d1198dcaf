package main

import (
	"log"
	"os"

	"bioinsight-be/internal/model"
	"bioinsight-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Migrating transcript tables...")
	if err := database.Migrate(db, &model.Turn{}); err != nil {
		log.Fatalf("Error: %v", err)
	}
	log.Println("Migration complete")
}
