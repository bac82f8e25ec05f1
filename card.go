package forage

// MethodDef describes a single method a provider supports.
type MethodDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SetupField describes one credential field in a provider's setup shape.
type SetupField struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
}

// ProviderCard is the static descriptive metadata for a provider, used
// for capability discovery and presentation, never for execution.
type ProviderCard struct {
	Provider    Provider     `json:"provider"`
	DisplayName string       `json:"display_name"`
	Homepage    string       `json:"homepage"`
	Docs        string       `json:"docs"`
	Icon        string       `json:"icon"`
	SetupFields []SetupField `json:"setup_fields"`
	Methods     []MethodDef  `json:"methods"`
}
