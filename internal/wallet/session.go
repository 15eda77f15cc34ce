package wallet

import "time"

// Session is the single authenticated wallet connection.
type Session struct {
	Address       string    `json:"address"`
	ProviderID    string    `json:"provider_id"`
	ChainID       uint64    `json:"chain_id"`
	EstablishedAt time.Time `json:"established_at"`
	Provider      Provider  `json:"-"`
}
