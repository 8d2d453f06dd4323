package model

// TokenMeta is what the vault needs to know about an asset before it can
// hold it: the decimals that set its scaling factor, plus labels for
// reports. Configured values win over values read from chain.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
}

// Merge takes decimals from fetched and fills the labels m leaves empty.
func (m TokenMeta) Merge(fetched TokenMeta) TokenMeta {
	m.Decimals = fetched.Decimals
	if m.Symbol == "" {
		m.Symbol = fetched.Symbol
	}
	if m.Name == "" {
		m.Name = fetched.Name
	}
	return m
}
