package auth

import (
	"bytes"
	"context"
	"testing"

	"github.com/basilica-network/term-executor/internal/oracle"
)

func TestWhitelist_ColdStart(t *testing.T) {
	w := NewWhitelist(&oracle.Static{}, 1000)
	if w.Size() != 0 {
		t.Fatalf("expected cold-start size 0, got %d", w.Size())
	}
}

func TestWhitelist_FiltersByStakeActiveAndPermit(t *testing.T) {
	qualified := bytes.Repeat([]byte{0x01}, 32)
	lowStake := bytes.Repeat([]byte{0x02}, 32)
	inactive := bytes.Repeat([]byte{0x03}, 32)
	noPermit := bytes.Repeat([]byte{0x04}, 32)

	o := &oracle.Static{Snapshot: []oracle.Neuron{
		{Hotkey: qualified, Stake: 5000, Active: true, ValidatorPermit: true},
		{Hotkey: lowStake, Stake: 10, Active: true, ValidatorPermit: true},
		{Hotkey: inactive, Stake: 5000, Active: false, ValidatorPermit: true},
		{Hotkey: noPermit, Stake: 5000, Active: true, ValidatorPermit: false},
	}}

	w := NewWhitelist(o, 1000)
	w.RefreshOnce(context.Background())

	if w.Size() != 1 {
		t.Fatalf("expected exactly 1 qualified peer, got %d", w.Size())
	}

	qualifiedID, err := EncodeSS58(ss58GenericPrefix, qualified)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !w.Contains(qualifiedID) {
		t.Fatalf("expected qualified peer to be whitelisted")
	}
}

func TestWhitelist_RefreshFailureKeepsCachedSet(t *testing.T) {
	qualified := bytes.Repeat([]byte{0x09}, 32)
	o := &failingOracleAfterFirst{snapshot: []oracle.Neuron{
		{Hotkey: qualified, Stake: 5000, Active: true, ValidatorPermit: true},
	}}

	w := NewWhitelist(o, 1000)
	w.retryWait = nil // avoid sleeping in the test
	w.RefreshOnce(context.Background())
	if w.Size() != 1 {
		t.Fatalf("expected first refresh to populate whitelist, got size %d", w.Size())
	}

	o.fail = true
	w.RefreshOnce(context.Background())
	if w.Size() != 1 {
		t.Fatalf("expected cached whitelist to survive a failed refresh, got size %d", w.Size())
	}
}

type failingOracleAfterFirst struct {
	snapshot []oracle.Neuron
	fail     bool
}

func (f *failingOracleAfterFirst) Neurons(_ context.Context) ([]oracle.Neuron, error) {
	if f.fail {
		return nil, errOracleUnavailable
	}
	return f.snapshot, nil
}

var errOracleUnavailable = &oracleUnavailableError{}

type oracleUnavailableError struct{}

func (*oracleUnavailableError) Error() string { return "oracle unavailable" }
