package role

import (
	"testing"
	"time"
)

func TestRegistryDefaults(t *testing.T) {
	g := New(Options{})
	cases := map[Role]time.Duration{
		DB:     5 * time.Second,
		Auth:   3 * time.Second,
		World:  25 * time.Second,
		Client: 0,
	}
	for r, want := range cases {
		if got := g.DelayFor(r); got != want {
			t.Fatalf("DelayFor(%s)=%v want %v", r, got, want)
		}
	}
	if g.IsOrdered(Client) {
		t.Fatal("client must not be ordered")
	}
	for _, r := range []Role{DB, Auth, World} {
		if !g.IsOrdered(r) {
			t.Fatalf("%s must be ordered", r)
		}
	}
}

func TestRegistryOrder(t *testing.T) {
	g := New(Options{})
	got := g.OrderedRoles()
	want := []Role{DB, Auth, World}
	if len(got) != len(want) {
		t.Fatalf("unexpected order %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order[%d]=%s want %s", i, got[i], want[i])
		}
	}
	rev := g.ReverseOrderedRoles()
	if rev[0] != World || rev[2] != DB {
		t.Fatalf("unexpected reverse order %v", rev)
	}
}

func TestRegistryOverrides(t *testing.T) {
	g := New(Options{
		Paths:  map[Role]string{DB: "/srv/start_mysql.sh"},
		Delays: map[Role]time.Duration{World: 15 * time.Second, Client: time.Second},
	})
	if g.DelayFor(World) != 15*time.Second {
		t.Fatalf("world override not applied: %v", g.DelayFor(World))
	}
	if g.DelayFor(Client) != 0 {
		t.Fatalf("client delay must stay zero, got %v", g.DelayFor(Client))
	}
	if g.Path(DB) != "/srv/start_mysql.sh" || g.Path(Auth) != "" {
		t.Fatalf("unexpected paths: db=%q auth=%q", g.Path(DB), g.Path(Auth))
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"db", " AUTH ", "World", "client"} {
		if _, err := Parse(s); err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
	}
	if _, err := Parse("proxy"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
