// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package subs

// SymbolConfig describes what a provider should deliver for one symbol.
// Providers ignore fields they cannot honor (e.g. DepthLevels beyond their
// maximum is clamped, not rejected).
type SymbolConfig struct {
	Symbol          string `json:"symbol"`
	SubscribeTrades bool   `json:"subscribe_trades"`
	SubscribeQuotes bool   `json:"subscribe_quotes"`
	SubscribeDepth  bool   `json:"subscribe_depth"`
	DepthLevels     int    `json:"depth_levels,omitempty"`
	SecurityType    string `json:"security_type,omitempty"`
	Exchange        string `json:"exchange,omitempty"`
	Currency        string `json:"currency,omitempty"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
}

// Kinds returns the subscription kinds the config asks for.
func (c SymbolConfig) Kinds() []Kind {
	kinds := make([]Kind, 0, 3)
	if c.SubscribeTrades {
		kinds = append(kinds, KindTrades)
	}
	if c.SubscribeQuotes {
		kinds = append(kinds, KindQuotes)
	}
	if c.SubscribeDepth {
		kinds = append(kinds, KindDepth)
	}
	return kinds
}
