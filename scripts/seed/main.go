package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/supplyledger/internal/app"
	"github.com/odyssey-erp/supplyledger/internal/auth"
	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer c.Close()

	fmt.Println("→ Applying schema...")
	if err := db.Migrate(ctx, c.Pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding churches...")
	churchIDs, err := seedChurches(ctx, c.Pool)
	if err != nil {
		log.Fatalf("seed churches: %v", err)
	}

	fmt.Println("→ Seeding users...")
	adminID, err := seedUsers(ctx, c.Pool, churchIDs)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}

	fmt.Println("→ Seeding products...")
	if err := seedProducts(ctx, c.Pool, c.Stock); err != nil {
		log.Fatalf("seed products: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	token, err := verifier.Sign(shared.Identity{UserID: adminID, Role: shared.RoleAdmin}, 24*time.Hour)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
	fmt.Println("  admin bearer token (24h):", token)
}

func seedChurches(ctx context.Context, pool *pgxpool.Pool) ([]int64, error) {
	churches := []struct{ name, city string }{
		{"Igreja Central", "Santa Isabel"},
		{"Congregação Parque Esperança", "Santa Isabel"},
		{"Congregação Vila Rica", "Santa Isabel"},
		{"Igreja Santo Antônio", "Arujá"},
		{"Igreja São Paulo", "Guarulhos"},
		{"Congregação Centro", "Guarulhos"},
	}
	ids := make([]int64, 0, len(churches))
	for _, ch := range churches {
		var id int64
		err := pool.QueryRow(ctx, `SELECT id FROM churches WHERE name = $1 AND city = $2`, ch.name, ch.city).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			err = pool.QueryRow(ctx, `INSERT INTO churches (name, city) VALUES ($1, $2) RETURNING id`, ch.name, ch.city).Scan(&id)
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, churchIDs []int64) (int64, error) {
	// church indexes into churchIDs; -1 means no membership.
	users := []struct {
		name, email, password, role string
		church                      int
	}{
		{"Administrador", "admin@supply.local", "admin123", shared.RoleAdmin, -1},
		{"Diácono Central", "central@supply.local", "central123", shared.RoleUser, 0},
		{"Diácono Guarulhos", "guarulhos@supply.local", "guarulhos123", shared.RoleUser, 4},
	}

	var adminID int64
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return 0, err
		}
		var id int64
		err = pool.QueryRow(ctx, `
			INSERT INTO users (name, email, password_hash, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, u.name, u.email, string(hash), u.role).Scan(&id)
		if err != nil {
			return 0, err
		}
		if u.role == shared.RoleAdmin {
			adminID = id
		}
		if u.church < 0 {
			continue
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO user_churches (user_id, church_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, id, churchIDs[u.church]); err != nil {
			return 0, err
		}
	}
	return adminID, nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, ledger *stock.Service) error {
	products := []struct {
		name, unit, price string
		stock, threshold  int
	}{
		{"Prato Fundo Branco", "UN", "5.50", 150, 20},
		{"Copo 200ml Descartável", "PCT", "12.00", 50, 10},
		{"Panela Alumínio 10L", "UN", "45.00", 15, 3},
		{"Detergente Neutro 500ml", "UN", "3.20", 80, 15},
		{"Desinfetante 1L", "UN", "6.50", 60, 12},
		{"Vassoura de Nylon", "UN", "12.00", 25, 5},
		{"Papel A4 (resma 500 folhas)", "UN", "25.00", 30, 5},
		{"Caneta Esferográfica Azul", "CX", "18.00", 25, 5},
		{"Café Torrado 500g", "PCT", "12.50", 60, 10},
		{"Açúcar Cristal 1kg", "PCT", "4.20", 80, 15},
		{"Papel Higiênico (fardo 12 rolos)", "FD", "28.00", 35, 8},
		{"Sabonete Líquido 250ml", "UN", "8.50", 40, 8},
	}
	for _, p := range products {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE name = $1)`, p.name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := ledger.RegisterProduct(ctx, stock.ProductInput{
			Name:              p.name,
			Unit:              p.unit,
			Price:             decimal.RequireFromString(p.price),
			InitialStock:      p.stock,
			LowStockThreshold: p.threshold,
		}); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}
