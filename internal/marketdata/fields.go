package marketdata

import "github.com/marketfanout/engine/internal/domain"

// wellKnownFields is the documented set of fields the adapter normalizes,
// grounded on the original dashboard aggregator's summary payload
// (_examples/original_source/.../dashboard_aggregator.rs).
var wellKnownFields = []string{
	"btc_price_usd", "btc_change_24h",
	"eth_price_usd", "eth_change_24h",
	"sol_price_usd", "sol_change_24h",
	"xrp_price_usd", "xrp_change_24h",
	"ada_price_usd", "ada_change_24h",
	"link_price_usd", "link_change_24h",
	"bnb_price_usd", "bnb_change_24h",
	"market_cap_usd", "volume_24h_usd",
	"market_cap_change_percentage_24h_usd",
	"btc_market_cap_percentage", "eth_market_cap_percentage",
	"us_stock_indices",
}

// numericSentinelFields get a defined numeric default rather than a null
// sentinel, because the downstream protocol requires a defined value
// (spec §4.6).
var numericSentinelFields = map[string]interface{}{
	"fng_value":  50,
	"btc_rsi_14": 50.0,
}

// normalize copies the well-known fields from raw into a new snapshot,
// substituting nil for anything missing, then overlays the numeric
// sentinels. Fields of raw outside these two sets are dropped; the provenance
// fields are added afterwards by fetchUpstream.
func normalize(raw domain.Snapshot) domain.Snapshot {
	out := make(domain.Snapshot, len(wellKnownFields)+len(numericSentinelFields)+4)

	for _, f := range wellKnownFields {
		if v, ok := raw[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}

	for f, sentinel := range numericSentinelFields {
		if v, ok := raw[f]; ok {
			out[f] = v
		} else {
			out[f] = sentinel
		}
	}

	return out
}
