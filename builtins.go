package forage

// registerBuiltins registers the built-in provider contracts. Called
// once when the global registry is first initialized.
func registerBuiltins(r *Registry) {
	r.Register(Contract{
		Provider:     ProviderSpider,
		Card:         spiderCard(),
		NewSetup:     func() Setup { return &SpiderSetup{} },
		NewArguments: func() Arguments { return &SpiderArguments{} },
		Normalize:    NormalizeSpiderResponse,
	})

	r.Register(Contract{
		Provider:     ProviderLlamaParse,
		Card:         llamaParseCard(),
		NewSetup:     func() Setup { return &LlamaParseSetup{} },
		NewArguments: func() Arguments { return &LlamaParseArguments{} },
		Normalize:    NormalizeLlamaParseResponse,
	})
}
