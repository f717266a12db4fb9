package core

import "context"

// LinkResolver fetches raw content from a URL. Network safety (scheme
// allow-lists, private-address guards, size caps) is the resolver's
// responsibility and invisible to the engine; failures surface as
// *FetchError and abort a run before any document work begins.
type LinkResolver interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// JobResolver turns raw user input (pasted posting text or a URL) into the
// extracted JobContext that grounds a run's prompts.
type JobResolver interface {
	Resolve(ctx context.Context, rawInput string) (*JobContext, error)
}
