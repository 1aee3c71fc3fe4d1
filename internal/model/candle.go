package model

import "encoding/json"

// Candle represents OHLC price action over one fixed-size time bucket.
// Time is the bucket start in milliseconds since epoch.
// Values are carried as received: no range or finiteness checks are applied.
type Candle struct {
	Time  int64   `json:"time"` // bucket start (ms)
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CandleUpdate is one incremental candle event from the live feed.
// Closed reports that the bucket's data will not change again.
type CandleUpdate struct {
	Candle Candle `json:"candle"`
	Closed bool   `json:"closed"`
}
