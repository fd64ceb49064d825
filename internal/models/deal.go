package models

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when acting on an expired or cancelled session.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoReferenceData is returned when reference data has never been loaded
// and a refresh attempt failed, leaving nothing to serve.
var ErrNoReferenceData = errors.New("no reference data available")

// PricingModel tags how a deal is bought: per acquisition or per lead.
type PricingModel string

const (
	PricingCPA PricingModel = "CPA"
	PricingCPL PricingModel = "CPL"
)

// Deal is an immutable snapshot of a deal record fetched from Firestore.
// Price fields are pointers so an absent value is distinguishable from zero.
type Deal struct {
	ID             string       `firestore:"-" validate:"required"`
	Partner        string       `firestore:"partner" validate:"required"`
	Geo            string       `firestore:"geo" validate:"required"`
	Language       string       `firestore:"language,omitempty"`
	TrafficSources []string     `firestore:"trafficSources,omitempty"`
	Funnels        []string     `firestore:"funnels,omitempty"`
	PricingModel   PricingModel `firestore:"pricingModel" validate:"required,oneof=CPA CPL"`
	CPA            *float64     `firestore:"cpa,omitempty" validate:"omitempty,gte=0"`
	CRG            *float64     `firestore:"crg,omitempty" validate:"omitempty,gte=0,lte=1"`
	CPL            *float64     `firestore:"cpl,omitempty" validate:"omitempty,gte=0"`
	FetchedAt      time.Time    `firestore:"-"`
}
