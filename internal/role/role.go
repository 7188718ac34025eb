package role

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies one of the managed server components.
type Role string

const (
	DB     Role = "db"
	Auth   Role = "auth"
	World  Role = "world"
	Client Role = "client"
)

// Default startup delays. The managed executables expose no readiness signal,
// so these wall-clock values stand in for "ready".
const (
	DefaultDBDelay    = 5000 * time.Millisecond
	DefaultAuthDelay  = 3000 * time.Millisecond
	DefaultWorldDelay = 25000 * time.Millisecond
)

// All lists every known role, ordered roles first.
var All = []Role{DB, Auth, World, Client}

func (r Role) String() string { return string(r) }

// Parse converts a user supplied name into a Role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case DB, Auth, World, Client:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q: must be one of db, auth, world, client", s)
	}
}

// Definition is the static description of a role.
type Definition struct {
	Role    Role
	Path    string        // absolute executable path, empty when unconfigured
	Delay   time.Duration // startup delay; zero for unordered roles
	Ordered bool          // participates in bulk start/stop sequencing
}

// Registry holds the role definitions. It is immutable after New.
type Registry struct {
	defs map[Role]Definition
}

// Options carries the configurable parts of the registry.
type Options struct {
	Paths  map[Role]string
	Delays map[Role]time.Duration
}

// New builds a registry from options. Missing delays fall back to the
// defaults; a delay configured for the client role is ignored.
func New(opts Options) *Registry {
	defaults := map[Role]time.Duration{
		DB:    DefaultDBDelay,
		Auth:  DefaultAuthDelay,
		World: DefaultWorldDelay,
	}
	defs := make(map[Role]Definition, len(All))
	for _, r := range All {
		d := Definition{Role: r, Path: opts.Paths[r]}
		if r != Client {
			d.Ordered = true
			d.Delay = defaults[r]
			if v, ok := opts.Delays[r]; ok && v >= 0 {
				d.Delay = v
			}
		}
		defs[r] = d
	}
	return &Registry{defs: defs}
}

// Definition returns the definition for r.
func (g *Registry) Definition(r Role) (Definition, bool) {
	d, ok := g.defs[r]
	return d, ok
}

// DelayFor returns the configured startup delay of r.
func (g *Registry) DelayFor(r Role) time.Duration { return g.defs[r].Delay }

// IsOrdered reports whether r takes part in ordered bulk operations.
func (g *Registry) IsOrdered(r Role) bool { return g.defs[r].Ordered }

// Path returns the configured executable path of r.
func (g *Registry) Path(r Role) string { return g.defs[r].Path }

// OrderedRoles returns the dependency order used by bulk start: db, auth, world.
func (g *Registry) OrderedRoles() []Role { return []Role{DB, Auth, World} }

// ReverseOrderedRoles returns the shutdown order: world, auth, db.
func (g *Registry) ReverseOrderedRoles() []Role { return []Role{World, Auth, DB} }
