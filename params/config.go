package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CommitteeMember is one static committee entry: node id, the ECDSA address
// its proposals and pre-votes recover to, its voting weight, and its BLS
// public key (hex, compressed G1).
type CommitteeMember struct {
	ID      string
	Address string
	Weight  uint64
	BLSPub  string
}

type Consensus struct {
	Members          []CommitteeMember
	CommitteeVersion uint64
	ProposeTimeout   time.Duration
	PreVoteTimeout   time.Duration
	PreCommitTimeout time.Duration
}

type Pool struct {
	MaxOrders   int
	MaxPerOwner int
}

type Chain struct {
	RPCURL     string // websocket endpoint, header subscription needs push
	ChainID    int64
	Contract   string // settlement contract address
	Pairs      []string
	Submit     bool // only meaningful on proposer turns
	SubmitKey  string
	DomainName string
}

type Node struct {
	ID         string
	KeyHex     string // ECDSA, hex without 0x
	BLSSeed    string // 32-byte hex seed for the BLS share key
	APIAddr    string
	P2PListen  string
	Bootstrap  []string
	DataDir    string
	WALEnabled bool
	SingleNode bool
}

type Config struct {
	Consensus Consensus
	Pool      Pool
	Chain     Chain
	Node      Node
}

func Default() Config {
	return Config{
		Consensus: Consensus{
			CommitteeVersion: 1,
			ProposeTimeout:   500 * time.Millisecond,
			PreVoteTimeout:   500 * time.Millisecond,
			PreCommitTimeout: 500 * time.Millisecond,
		},
		Pool: Pool{
			MaxOrders:   4096,
			MaxPerOwner: 32,
		},
		Chain: Chain{
			ChainID:    1,
			DomainName: "Angstrom",
		},
		Node: Node{
			ID:         "node0",
			APIAddr:    ":8080",
			P2PListen:  "/ip4/0.0.0.0/tcp/9000",
			DataDir:    "data",
			SingleNode: true,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.ID = getEnv("NODE_ID", cfg.Node.ID)
	cfg.Node.KeyHex = getEnv("NODE_KEY_HEX", cfg.Node.KeyHex)
	cfg.Node.BLSSeed = getEnv("NODE_BLS_SEED", cfg.Node.BLSSeed)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.P2PListen = getEnv("P2P_LISTEN", cfg.Node.P2PListen)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.Node.Bootstrap = splitCSV(v)
	}
	if v := os.Getenv("WAL_ENABLED"); v != "" {
		cfg.Node.WALEnabled = v == "true"
	}
	if v := os.Getenv("SINGLE_NODE"); v != "" {
		cfg.Node.SingleNode = v == "true"
	}

	if ms := envInt("CONSENSUS_PROPOSE_TIMEOUT_MS"); ms > 0 {
		cfg.Consensus.ProposeTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt("CONSENSUS_PREVOTE_TIMEOUT_MS"); ms > 0 {
		cfg.Consensus.PreVoteTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt("CONSENSUS_PRECOMMIT_TIMEOUT_MS"); ms > 0 {
		cfg.Consensus.PreCommitTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := envInt("COMMITTEE_VERSION"); v > 0 {
		cfg.Consensus.CommitteeVersion = uint64(v)
	}
	// COMMITTEE: "id@address@weight@blspub,id@address@weight@blspub,..."
	if v := os.Getenv("COMMITTEE"); v != "" {
		cfg.Consensus.Members = parseCommittee(v)
	}

	if n := envInt("POOL_MAX_ORDERS"); n > 0 {
		cfg.Pool.MaxOrders = n
	}
	if n := envInt("POOL_MAX_PER_OWNER"); n > 0 {
		cfg.Pool.MaxPerOwner = n
	}

	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.Contract = getEnv("CHAIN_CONTRACT", cfg.Chain.Contract)
	cfg.Chain.SubmitKey = getEnv("CHAIN_SUBMIT_KEY", cfg.Chain.SubmitKey)
	cfg.Chain.DomainName = getEnv("CHAIN_DOMAIN_NAME", cfg.Chain.DomainName)
	if v := envInt("CHAIN_ID"); v > 0 {
		cfg.Chain.ChainID = int64(v)
	}
	if v := os.Getenv("CHAIN_SUBMIT"); v != "" {
		cfg.Chain.Submit = v == "true"
	}
	// CHAIN_PAIRS: "asset0:asset1,asset0:asset1,..."
	if v := os.Getenv("CHAIN_PAIRS"); v != "" {
		cfg.Chain.Pairs = splitCSV(v)
	}

	return cfg
}

func parseCommittee(raw string) []CommitteeMember {
	var out []CommitteeMember
	for _, entry := range splitCSV(raw) {
		parts := strings.Split(entry, "@")
		if len(parts) != 4 {
			continue
		}
		weight, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil || weight == 0 {
			continue
		}
		out = append(out, CommitteeMember{
			ID:      parts[0],
			Address: parts[1],
			Weight:  weight,
			BLSPub:  parts[3],
		})
	}
	return out
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
