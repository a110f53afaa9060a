package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/scheduler"
	"github.com/Custodia-Systems/timevault/pkg/treasury"
)

const t0 = int64(1700000000)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestDirectory() (*Directory, *treasury.Vault, *fakeClock) {
	vault := treasury.NewVault()
	clock := &fakeClock{now: time.Unix(t0, 0)}
	factory := func(id string, owner contracts.Identity, description string) *scheduler.Timelock {
		return scheduler.New(id, owner, description, scheduler.DefaultConfig(), vault).WithClock(clock.Now)
	}
	return New(factory).WithClock(clock.Now), vault, clock
}

func TestCreateAndListPerCreator(t *testing.T) {
	d, _, _ := newTestDirectory()

	first, err := d.Create("acct:carol", "", "household")
	if err != nil {
		t.Fatal(err)
	}
	if first.Owner != "acct:carol" {
		t.Errorf("empty owner should default to creator, got %s", first.Owner)
	}
	second, err := d.Create("acct:carol", "acct:dan", "company")
	if err != nil {
		t.Fatal(err)
	}

	list := d.List("acct:carol")
	if len(list) != 2 {
		t.Fatalf("carol sees %d instances, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Error("listing lost creation order")
	}
	if len(d.List("acct:dan")) != 0 {
		t.Error("ownership must not imply creator listing")
	}
	if d.Size() != 2 {
		t.Errorf("Size = %d, want 2", d.Size())
	}
}

func TestCreateRequiresCreator(t *testing.T) {
	d, _, _ := newTestDirectory()
	if _, err := d.Create("", "acct:dan", "x"); err == nil {
		t.Fatal("expected error for empty creator")
	}
}

func TestGetAndDescribe(t *testing.T) {
	d, _, _ := newTestDirectory()
	info, _ := d.Create("acct:carol", "", "household")

	tl, err := d.Get(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tl.Owner() != "acct:carol" {
		t.Errorf("instance owner = %s, want acct:carol", tl.Owner())
	}

	got, err := d.Describe(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Custodian != tl.Custodian() {
		t.Error("described custodian mismatch")
	}

	if _, err := d.Get("nope"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("got %v, want ErrInstanceNotFound", err)
	}
	if _, err := d.Describe("nope"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("got %v, want ErrInstanceNotFound", err)
	}
}

func TestRouteExecutesQueuedRelease(t *testing.T) {
	d, vault, clock := newTestDirectory()
	vault.Mint("acct:alice", 100000)

	info, _ := d.Create("acct:owner", "", "treasury")
	tl, _ := d.Get(info.ID)

	dep, err := tl.Deposit(context.Background(), "acct:alice", "ops", "acct:bob", 50000, t0+50000)
	if err != nil {
		t.Fatal(err)
	}
	txID, err := tl.Queue(context.Background(), "acct:owner", "acct:settlement", dep.ID, "transferFunds(bytes32)")
	if err != nil {
		t.Fatal(err)
	}

	clock.now = time.Unix(t0+50001, 0)
	if _, err := d.Route(context.Background(), info.Custodian, txID); err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if got, _ := vault.Balance(context.Background(), "acct:bob"); got != 50000 {
		t.Errorf("recipient balance = %d, want 50000", got)
	}
	if tl.IsQueued(txID) {
		t.Error("routed execution left the queue entry")
	}
}

func TestRouteRejectsNonInstanceCaller(t *testing.T) {
	d, _, _ := newTestDirectory()
	d.Create("acct:owner", "", "treasury")

	_, err := d.Route(context.Background(), "acct:owner", contracts.TxID{1})
	if !errors.Is(err, contracts.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
}

func TestRouteUnknownTx(t *testing.T) {
	d, _, _ := newTestDirectory()
	info, _ := d.Create("acct:owner", "", "treasury")

	_, err := d.Route(context.Background(), info.Custodian, contracts.TxID{1})
	if !errors.Is(err, contracts.ErrNotQueued) {
		t.Fatalf("got %v, want ErrNotQueued", err)
	}
}
