package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Fees configures the spread fee skimmed from coin leaving escrow.
// Collectors and Bps are parallel slices: Collectors[i] receives Bps[i]
// basis points of every released coin amount.
type Fees struct {
	Collectors []string
	Bps        []uint64
}

type Escrow struct {
	// MinFillDeadline is the smallest payment window a maker may configure
	// on an order. Takers always get at least this long to confirm fiat
	// payment after requesting a fill.
	MinFillDeadline time.Duration

	// AllowedCoins and AllowedFiats gate order creation.
	AllowedCoins []string
	AllowedFiats []string

	// Admins hold the dispute-arbitration capability.
	Admins []string
}

type Node struct {
	DBPath  string
	APIAddr string
	LogFile string
}

type Config struct {
	Fees   Fees
	Escrow Escrow
	Node   Node
}

func Default() Config {
	return Config{
		Fees: Fees{
			Collectors: nil,
			Bps:        nil,
		},
		Escrow: Escrow{
			MinFillDeadline: 15 * time.Minute,
			AllowedCoins:    []string{"BTC", "ETH", "USDC"},
			AllowedFiats:    []string{"USD", "EUR", "KRW"},
		},
		Node: Node{
			DBPath:  "data/escrow.db",
			APIAddr: ":8080",
			LogFile: "data/escrowd.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("ESCROW_MIN_FILL_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Escrow.MinFillDeadline = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("ESCROW_ALLOWED_COINS"); v != "" {
		cfg.Escrow.AllowedCoins = splitList(v)
	}

	if v := os.Getenv("ESCROW_ALLOWED_FIATS"); v != "" {
		cfg.Escrow.AllowedFiats = splitList(v)
	}

	if v := os.Getenv("ESCROW_ADMINS"); v != "" {
		cfg.Escrow.Admins = splitList(v)
	}

	// FEE_COLLECTORS="0xabc...:25,0xdef...:10" (address:bps pairs)
	if v := os.Getenv("FEE_COLLECTORS"); v != "" {
		cfg.Fees.Collectors = nil
		cfg.Fees.Bps = nil
		for _, pair := range splitList(v) {
			addr, rate, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			bps, err := strconv.ParseUint(rate, 10, 64)
			if err != nil {
				continue
			}
			cfg.Fees.Collectors = append(cfg.Fees.Collectors, addr)
			cfg.Fees.Bps = append(cfg.Fees.Bps, bps)
		}
	}

	if v := os.Getenv("ESCROW_DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
