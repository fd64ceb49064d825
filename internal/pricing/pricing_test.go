package pricing

import (
	"testing"

	"github.com/affstack/deal-search-bot/internal/config"
	"github.com/affstack/deal-search-bot/internal/models"
)

func testEngine() *Engine {
	return New(
		config.PricingDeltas{CPADelta: 50, CRGDelta: 0.01, CRGFloor: 0.10, CPLDelta: 5},
		config.PricingDeltas{CPADelta: 100, CRGDelta: 0, CPLDelta: 7},
	)
}

func ptr(v float64) *float64 { return &v }

func TestApply_NetworkMode(t *testing.T) {
	e := testEngine()
	deal := models.Deal{CPA: ptr(400), CRG: ptr(0.12), CPL: ptr(40)}

	p := e.Apply(deal, ModeNetwork)
	if *p.CPA != 450 {
		t.Errorf("Expected CPA 450, got %f", *p.CPA)
	}
	if *p.CRG != 0.13 {
		t.Errorf("Expected CRG 0.13, got %f", *p.CRG)
	}
	if *p.CPL != 45 {
		t.Errorf("Expected CPL 45, got %f", *p.CPL)
	}
}

func TestApply_NetworkCRGFloor(t *testing.T) {
	e := testEngine()
	deal := models.Deal{CRG: ptr(0.08)}

	p := e.Apply(deal, ModeNetwork)
	if *p.CRG != 0.08 {
		t.Errorf("CRG at or below the floor must be unchanged, got %f", *p.CRG)
	}
}

func TestApply_BrandMode(t *testing.T) {
	e := testEngine()
	deal := models.Deal{CPA: ptr(400), CRG: ptr(0.12), CPL: ptr(40)}

	p := e.Apply(deal, ModeBrand)
	if *p.CPA != 500 {
		t.Errorf("Expected CPA 500, got %f", *p.CPA)
	}
	if *p.CRG != 0.12 {
		t.Errorf("BRAND must leave CRG unchanged, got %f", *p.CRG)
	}
	if *p.CPL != 47 {
		t.Errorf("Expected CPL 47, got %f", *p.CPL)
	}
}

func TestApply_AbsentFieldsStayAbsent(t *testing.T) {
	e := testEngine()
	deal := models.Deal{CPL: ptr(40)}

	p := e.Apply(deal, ModeNetwork)
	if p.CPA != nil {
		t.Errorf("Absent CPA must not become %f", *p.CPA)
	}
	if p.CRG != nil {
		t.Error("Absent CRG must stay absent")
	}
	if p.CPL == nil || *p.CPL != 45 {
		t.Error("Present CPL must still be adjusted")
	}
}

func TestApply_DoesNotMutateDeal(t *testing.T) {
	e := testEngine()
	deal := models.Deal{CPA: ptr(400)}

	e.Apply(deal, ModeNetwork)
	e.Apply(deal, ModeBrand)
	if *deal.CPA != 400 {
		t.Errorf("Apply must not mutate the deal, raw CPA now %f", *deal.CPA)
	}
}

func TestToggle(t *testing.T) {
	if ModeNetwork.Toggle() != ModeBrand || ModeBrand.Toggle() != ModeNetwork {
		t.Error("Toggle must flip between the two modes")
	}
	if ModeNetwork.Toggle().Toggle() != ModeNetwork {
		t.Error("Double toggle must be the identity")
	}
}
