package pricing

import (
	"github.com/affstack/deal-search-bot/internal/config"
	"github.com/affstack/deal-search-bot/internal/models"
)

// Mode selects which price-adjustment formula applies to a deal's raw
// buying-side price.
type Mode string

const (
	ModeNetwork Mode = "NETWORK"
	ModeBrand   Mode = "BRAND"
)

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeNetwork {
		return ModeBrand
	}
	return ModeNetwork
}

// Price is a deal's displayed price. Absent raw fields stay absent; they
// never become zero.
type Price struct {
	CPA *float64
	CRG *float64
	CPL *float64
}

// Engine derives displayed prices from raw buying prices.
type Engine struct {
	network config.PricingDeltas
	brand   config.PricingDeltas
}

func New(network, brand config.PricingDeltas) *Engine {
	return &Engine{network: network, brand: brand}
}

// Apply computes the displayed price for a deal under the given mode.
func (e *Engine) Apply(deal models.Deal, mode Mode) Price {
	deltas := e.network
	if mode == ModeBrand {
		deltas = e.brand
	}

	var p Price
	if deal.CPA != nil {
		v := *deal.CPA + deltas.CPADelta
		p.CPA = &v
	}
	if deal.CRG != nil {
		v := *deal.CRG
		if deltas.CRGDelta > 0 && v > deltas.CRGFloor {
			v += deltas.CRGDelta
		}
		p.CRG = &v
	}
	if deal.CPL != nil {
		v := *deal.CPL + deltas.CPLDelta
		p.CPL = &v
	}
	return p
}
