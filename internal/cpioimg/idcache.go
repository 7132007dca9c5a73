package cpioimg

import (
	"os/user"
	"strconv"
	"sync"
)

// idCache lazily resolves uid/gid numbers to names the way `ls -l` does,
// caching lookups process-wide since the same handful of owners tends to
// repeat across every entry of an image.
type idCache struct {
	mu    sync.Mutex
	users map[uint32]string
	groups map[uint32]string
}

var globalIDCache = &idCache{
	users:  make(map[uint32]string),
	groups: make(map[uint32]string),
}

// userName returns the username for uid, or its decimal string if no such
// user exists on the host.
func (c *idCache) userName(uid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.users[uid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	c.users[uid] = name
	return name
}

// groupName returns the group name for gid, or its decimal string if no
// such group exists on the host.
func (c *idCache) groupName(gid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.groups[gid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	c.groups[gid] = name
	return name
}
