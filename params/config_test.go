package params

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Pool.MaxOrders != 4096 || cfg.Pool.MaxPerOwner != 32 {
		t.Fatalf("unexpected pool defaults: %+v", cfg.Pool)
	}
	if cfg.Consensus.ProposeTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected propose timeout: %v", cfg.Consensus.ProposeTimeout)
	}
	if cfg.Chain.DomainName != "Angstrom" {
		t.Fatalf("unexpected domain name: %q", cfg.Chain.DomainName)
	}
	if !cfg.Node.SingleNode {
		t.Fatal("default node should run single-node")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "validator-2")
	t.Setenv("POOL_MAX_ORDERS", "128")
	t.Setenv("CONSENSUS_PREVOTE_TIMEOUT_MS", "750")
	t.Setenv("SINGLE_NODE", "false")
	t.Setenv("CHAIN_PAIRS", "0xaa:0xbb, 0xcc:0xdd")

	cfg := LoadFromEnv("/nonexistent.env")
	if cfg.Node.ID != "validator-2" {
		t.Fatalf("NODE_ID not applied: %q", cfg.Node.ID)
	}
	if cfg.Pool.MaxOrders != 128 {
		t.Fatalf("POOL_MAX_ORDERS not applied: %d", cfg.Pool.MaxOrders)
	}
	if cfg.Consensus.PreVoteTimeout != 750*time.Millisecond {
		t.Fatalf("prevote timeout not applied: %v", cfg.Consensus.PreVoteTimeout)
	}
	if cfg.Node.SingleNode {
		t.Fatal("SINGLE_NODE=false not applied")
	}
	if len(cfg.Chain.Pairs) != 2 || cfg.Chain.Pairs[1] != "0xcc:0xdd" {
		t.Fatalf("CHAIN_PAIRS not parsed: %v", cfg.Chain.Pairs)
	}
}

func TestParseCommittee(t *testing.T) {
	raw := "n0@0xabc@3@0xpub0,n1@0xdef@1@0xpub1, malformed, n2@0x123@0@0xpub2"
	members := parseCommittee(raw)
	if len(members) != 2 {
		t.Fatalf("want 2 valid members, got %d: %+v", len(members), members)
	}
	if members[0].ID != "n0" || members[0].Weight != 3 || members[0].BLSPub != "0xpub0" {
		t.Fatalf("first member mismatch: %+v", members[0])
	}
	if members[1].Address != "0xdef" {
		t.Fatalf("second member mismatch: %+v", members[1])
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}
