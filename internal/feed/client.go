package feed

import "context"

// Client is the narrow contract the pipeline consumes for platform access.
// Search and FetchThread are read-only and retried internally on transient
// failure. Like and Reply are side-effecting and attempted at most once.
type Client interface {
	// Search returns recent items matching the query, up to maxResults.
	Search(ctx context.Context, query string, maxResults int) ([]Item, error)

	// FetchThread returns items in the given conversation, up to maxResults.
	FetchThread(ctx context.Context, conversationID string, maxResults int) ([]Item, error)

	// Like likes the item. Returns false when the platform rejects the call.
	Like(ctx context.Context, itemID string) (bool, error)

	// Reply posts text as a reply to the item.
	Reply(ctx context.Context, itemID string, text string) (bool, error)
}

// CredentialValidator is an optional interface for clients that can verify
// their credentials against the platform.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) error
}
