package models

// -----------------------------------------------------------------------------
// Market Catalog Structures
// -----------------------------------------------------------------------------

// MMarket is one listed trading pair from the exchange market catalog.
type MMarket struct {
	Symbol      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}
