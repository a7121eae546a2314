package redis

import "strings"

// Every key lives under pf: so the cart service can share a redis with the
// rest of the platform.
const keyNamespace = "pf"

func (c *Client) IdempotencyKey(scope, id string) string {
	return key("idempotency", scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return key("rate_limit", scope)
}

// ActiveCartKey holds the active cart document for ownerKey.
func (c *Client) ActiveCartKey(ownerKey string) string {
	return key("cart", "active", ownerKey)
}

// ActivityIndexKey is the sorted set of owner keys scored by last activity.
func (c *Client) ActivityIndexKey() string {
	return key("cart", "activity")
}

// OwnerLockKey is the lease serialising writes to one owner's carts.
func (c *Client) OwnerLockKey(ownerKey string) string {
	return key("lock", "cart", ownerKey)
}

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
