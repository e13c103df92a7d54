package flexgate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lyhniupi1/flexgate/protocol"
)

// RouteTable maps process names to a backend mount point by set membership.
// It is immutable once built and safe for concurrent use.
type RouteTable struct {
	fallback string
	mounts   map[string]string
}

// DefaultRoutes sends the cpay processes to "cpay" and everything else to "epcc".
var DefaultRoutes = MustRouteTable(protocol.MountEpcc, map[string][]string{
	protocol.MountCpay: protocol.CpayProcesses(),
})

// NewRouteTable builds a table where every process listed under a mount is
// routed there and all other processes go to fallback. A process may belong
// to only one mount.
func NewRouteTable(fallback string, routes map[string][]string) (*RouteTable, error) {
	fallback = strings.Trim(strings.TrimSpace(fallback), "/")
	if fallback == "" {
		return nil, fmt.Errorf("route table: empty fallback mount")
	}

	t := &RouteTable{fallback: fallback, mounts: make(map[string]string)}
	for mount, processes := range routes {
		mount = strings.Trim(strings.TrimSpace(mount), "/")
		if mount == "" {
			return nil, fmt.Errorf("route table: empty mount")
		}
		for _, p := range processes {
			p = strings.TrimSpace(p)
			if p == "" {
				return nil, fmt.Errorf("route table: empty process under %q", mount)
			}
			if existing, ok := t.mounts[p]; ok && existing != mount {
				return nil, fmt.Errorf("route table: process %q already bound to %q (attempted %q)", p, existing, mount)
			}
			t.mounts[p] = mount
		}
	}
	return t, nil
}

func MustRouteTable(fallback string, routes map[string][]string) *RouteTable {
	t, err := NewRouteTable(fallback, routes)
	if err != nil {
		panic(err)
	}
	return t
}

// Mount returns the mount point the process is served under.
func (t *RouteTable) Mount(process string) string {
	if m, ok := t.mounts[process]; ok {
		return m
	}
	return t.fallback
}

// Path returns "<mount>/<process>.json".
func (t *RouteTable) Path(process string) string {
	return t.Mount(process) + "/" + process + ".json"
}

func (t *RouteTable) Fallback() string {
	return t.fallback
}

// Mounts lists every mount point known to the table, fallback included.
func (t *RouteTable) Mounts() []string {
	seen := map[string]struct{}{t.fallback: {}}
	for _, m := range t.mounts {
		seen[m] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Processes lists the processes explicitly bound to mount.
func (t *RouteTable) Processes(mount string) []string {
	var out []string
	for p, m := range t.mounts {
		if m == mount {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
