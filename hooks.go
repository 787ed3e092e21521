package bindcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// Called once per Fetch; hit=false means compute ran and its value was stored.
	Lookup(hit bool)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt_value", "value_decode", "corrupt_meta"}
	SelfHeal(storageKey, reason string)

	// A compute returned an empty result; the key was deleted instead of cached.
	EmptyEvicted(storageKey string)

	// A generation token was replaced.
	IndexRotated(index string)
	RotateError(index string, err error)

	// Resolving tokens for a key failed. count is the number of indexes involved.
	TokenError(count int, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Lookup(bool)                {}
func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) EmptyEvicted(string)        {}
func (NopHooks) IndexRotated(string)        {}
func (NopHooks) RotateError(string, error)  {}
func (NopHooks) TokenError(int, error)      {}
func (NopHooks) ProviderSetRejected(string) {}
