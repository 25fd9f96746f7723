package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both
// AWS SSM Parameter Store (deployed environments) and environment variables
// (local development). LoadConfig takes a provider so the scanner and worker
// mains resolve DATABASE_URL, SMTP_PASSWORD, and REDIS_PASSWORD the same way.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values in batches to
	// avoid throttling. The keys slice contains the SSM parameter paths
	// (or equivalent identifiers) to resolve. Returns a map of key ->
	// plaintext value for all successfully resolved parameters.
	//
	// Implementations handle batching internally; Lambda cold starts of
	// the scanner and delivery worker may resolve several secrets at once.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
