package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/maiztros/pos/internal/domain/auth"
	"github.com/maiztros/pos/internal/domain/coupon"
	"github.com/maiztros/pos/internal/domain/money"
	"github.com/maiztros/pos/internal/storage/postgres"
)

type couponJSON struct {
	Code          string          `json:"code"`
	Type          string          `json:"type"`
	Value         decimal.Decimal `json:"value"`
	MinTotalCents int64           `json:"min_total_cents"`
	Description   string          `json:"description"`
	StartsAt      *time.Time      `json:"starts_at"`
	EndsAt        *time.Time      `json:"ends_at"`
	MaxUses       int             `json:"max_uses"`
}

func (c couponJSON) rule() (coupon.Rule, error) {
	code := coupon.NormalizeCode(c.Code)
	if code == "" {
		return coupon.Rule{}, errors.New("empty code")
	}
	t := coupon.DiscountType(c.Type)
	switch t {
	case coupon.DiscountPercent, coupon.DiscountFixed, coupon.DiscountFreeLowest:
	default:
		return coupon.Rule{}, errors.Errorf("coupon %s: unknown type %q", code, c.Type)
	}
	minTotal, err := money.FromCents(c.MinTotalCents)
	if err != nil {
		return coupon.Rule{}, errors.Wrapf(err, "coupon %s: min_total_cents", code)
	}
	return coupon.Rule{
		Code:         code,
		DiscountType: t,
		Value:        c.Value,
		MinTotal:     minTotal,
		Description:  c.Description,
		StartsAt:     c.StartsAt,
		EndsAt:       c.EndsAt,
		MaxUses:      c.MaxUses,
	}, nil
}

func main() {
	var (
		databaseURL  string
		couponsFile  string
		apiKey       string
		apiKeyName   string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file (.json or .json.gz)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or POS_SEED_API_KEY env)")
	flag.StringVar(&apiKeyName, "api-key-name", "POS terminal", "display name of the seeded API key")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POS_AUTH_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("POS_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("POS_AUTH_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, couponsFile, apiKey, apiKeyName, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, couponsFile, apiKey, apiKeyName, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), couponsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if apiKey == "" {
		slog.Info("no API key given, skipping")
		return nil
	}
	if err := seedAPIKey(ctx, pool, apiKey, apiKeyName, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func readCoupons(path string) ([]couponJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open coupons file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	var coupons []couponJSON
	if err := json.NewDecoder(r).Decode(&coupons); err != nil {
		return nil, errors.Wrap(err, "parse coupons JSON")
	}
	return coupons, nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, path string) error {
	slog.Info("reading coupons file", slog.String("path", path))

	coupons, err := readCoupons(path)
	if err != nil {
		return err
	}

	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		rule, err := c.rule()
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, rule); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", rule.Code)
		}

		slog.Info("upserted coupon", slog.String("code", rule.Code), slog.String("type", string(rule.DiscountType)))
	}
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, name, pepper string) error {
	slog.Info("seeding staff API key")

	if pepper == "" {
		slog.Warn("API key pepper is empty; hashes will not match a server configured with one")
	}

	id, err := postgres.NewAPIKeyRepository(pool).Create(ctx,
		auth.HashKey([]byte(pepper), strings.TrimSpace(apiKey)),
		name,
		[]string{auth.ScopeStaff},
	)
	if err != nil {
		return errors.Wrap(err, "upsert API key")
	}

	slog.Info("upserted API key", slog.String("id", id), slog.String("name", name))
	return nil
}
