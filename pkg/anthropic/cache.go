package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Multi-turn tool loops resend the same system prompt on every
// turn, so the first turn writes the cache and later turns read it.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
