package app

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"staybook/internal/domain"
)

// Converter converts amounts between the canonical accounting currency and a
// display currency. Rates are loaded eagerly at construction and cached for
// the process lifetime; a fresh process re-fetches. Conversion is
// best-effort for display: a missing rate falls back to identity and signals
// ErrRateUnavailable, it never alters an already-frozen charge amount.
type Converter struct {
	base  string
	rates map[string]float64 // quote -> multiplicative rate from base
}

func NewConverter(ctx context.Context, base string, src domain.RateStore) (*Converter, error) {
	rates, err := src.LoadRates(ctx, base)
	if err != nil {
		return nil, err
	}
	log.Info().Str("base", base).Int("rates", len(rates)).Msg("exchange rates loaded")
	return &Converter{base: base, rates: rates}, nil
}

// NewConverterWithRates builds a converter from an in-memory table. Used by
// tests and by callers that already hold a snapshot.
func NewConverterWithRates(base string, rates map[string]float64) *Converter {
	if rates == nil {
		rates = map[string]float64{}
	}
	return &Converter{base: base, rates: rates}
}

// Convert returns round(amountMinor * rate(from->to)). Identity pairs are
// exact with no lookup. When no rate exists for a non-identity pair the
// input is returned unchanged together with ErrRateUnavailable; callers log
// and carry on.
func (c *Converter) Convert(amountMinor int64, from, to string) (int64, error) {
	if from == to {
		return amountMinor, nil
	}
	r, ok := c.rate(from, to)
	if !ok {
		log.Warn().Str("from", from).Str("to", to).Msg("exchange rate unavailable, identity fallback")
		return amountMinor, domain.ErrRateUnavailable
	}
	return int64(math.Round(float64(amountMinor) * r)), nil
}

func (c *Converter) rate(from, to string) (float64, bool) {
	switch {
	case from == c.base:
		r, ok := c.rates[to]
		return r, ok && r > 0
	case to == c.base:
		r, ok := c.rates[from]
		if !ok || r <= 0 {
			return 0, false
		}
		return 1 / r, true
	default:
		// cross rate through the base
		rf, okf := c.rates[from]
		rt, okt := c.rates[to]
		if !okf || !okt || rf <= 0 || rt <= 0 {
			return 0, false
		}
		return rt / rf, true
	}
}

// Format renders an amount for a locale. Purely presentational; falls back
// to English and a bare code when the locale or currency cannot be parsed.
// Minor units are assumed to be hundredths, which holds for every currency
// this system settles in.
func (c *Converter) Format(amountMinor int64, code, locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		p := message.NewPrinter(tag)
		return p.Sprintf("%s %.2f", code, float64(amountMinor)/100)
	}
	p := message.NewPrinter(tag)
	return p.Sprintf("%v", currency.Symbol(unit.Amount(float64(amountMinor)/100)))
}
