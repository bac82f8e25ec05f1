package forage

import (
	"os"
	"strings"
)

const envKeyPrefix = "FORAGE_PROVIDER_"

// SetupFromEnv resolves a provider setup from environment variables.
// Pattern: FORAGE_PROVIDER_{NAME}_API_KEY, with the provider tag
// uppercased (e.g. FORAGE_PROVIDER_SPIDER_API_KEY,
// FORAGE_PROVIDER_LLAMA_PARSE_API_KEY). Returns false when the variable
// is unset or empty.
func SetupFromEnv(p Provider) (Setup, bool) {
	contract, ok := Global().Lookup(p)
	if !ok {
		return nil, false
	}

	key := envKeyPrefix + strings.ToUpper(string(p)) + "_API_KEY"
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, false
	}

	setup := contract.NewSetup()
	switch s := setup.(type) {
	case *SpiderSetup:
		s.APIKey = value
	case *LlamaParseSetup:
		s.APIKey = value
	default:
		return nil, false
	}
	return setup, true
}
