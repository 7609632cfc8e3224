package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetlink/teleconsult/internal/config"
	"github.com/vetlink/teleconsult/internal/db"
)

// Seeds demo data for local development: customers with pets, and verified
// vets with weekday schedules so the availability endpoints return slots.
func main() {
	customers := flag.Int("customers", 20, "number of customers to create")
	vets := flag.Int("vets", 5, "number of vets to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal("connect postgres", err)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		fatal("migrate", err)
	}

	if err := seedCustomers(ctx, pool, *customers); err != nil {
		fatal("seed customers", err)
	}
	if err := seedVets(ctx, pool, *vets); err != nil {
		fatal("seed vets", err)
	}

	fmt.Printf("seeded %d customers and %d vets\n", *customers, *vets)
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, n int) error {
	species := []string{"dog", "cat", "rabbit", "parrot", "hamster"}

	for i := 0; i < n; i++ {
		customerID := uuid.New()
		email := gofakeit.Email()
		_, err := pool.Exec(ctx,
			`INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)`,
			customerID, gofakeit.Name(), email)
		if err != nil {
			return err
		}

		pets := gofakeit.Number(1, 3)
		for j := 0; j < pets; j++ {
			_, err := pool.Exec(ctx,
				`INSERT INTO pets (id, customer_id, name, species) VALUES ($1, $2, $3, $4)`,
				uuid.New(), customerID, gofakeit.PetName(), species[gofakeit.Number(0, len(species)-1)])
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func seedVets(ctx context.Context, pool *pgxpool.Pool, n int) error {
	for i := 0; i < n; i++ {
		vetID := uuid.New()
		_, err := pool.Exec(ctx,
			`INSERT INTO vets (id, name, email, is_verified, is_available, accepts_bookings)
			 VALUES ($1, $2, $3, true, true, true)`,
			vetID, "Dr. "+gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}

		// Mon-Fri, 9:00-17:00.
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := pool.Exec(ctx,
				`INSERT INTO vet_schedules (id, vet_id, weekday, start_minute, end_minute)
				 VALUES ($1, $2, $3, $4, $5)`,
				uuid.New(), vetID, weekday, 9*60, 17*60)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
