package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/affstack/deal-search-bot/internal/models"
	"github.com/affstack/deal-search-bot/internal/pricing"
	"github.com/affstack/deal-search-bot/internal/session"
)

// Button is one inline keyboard button.
type Button struct {
	Label   string
	Payload string
}

// Render is a transport-agnostic render instruction: message text plus an
// inline button layout. Edit asks the transport to edit the previous
// message in place instead of sending a new one.
type Render struct {
	Text    string
	Buttons [][]Button
	Edit    bool
}

// Formatter renders deals and session views. It is pure: identical inputs
// always produce identical output, so repeated page/pricing toggles are
// idempotent re-renders.
type Formatter struct {
	pricer *pricing.Engine
}

func New(pricer *pricing.Engine) *Formatter {
	return &Formatter{pricer: pricer}
}

// DealLine renders one deal in the canonical display shape:
//
//	PARTNER -> GEO [src|src] CPA 500 + 11%
//
// CPL deals render their CPL price; everything else renders CPA+CRG.
// Absent price fields are omitted, never rendered as zero.
func (f *Formatter) DealLine(deal models.Deal, mode pricing.Mode) string {
	sources := "N/A"
	if len(deal.TrafficSources) > 0 {
		sources = strings.Join(deal.TrafficSources, "|")
	}

	line := fmt.Sprintf("%s -> %s [%s]", deal.Partner, deal.Geo, sources)
	if price := f.priceText(deal, mode); price != "" {
		line += " " + price
	}
	if len(deal.Funnels) > 0 {
		line += "\nFunnels: " + strings.Join(deal.Funnels, ", ")
	}
	return line
}

func (f *Formatter) priceText(deal models.Deal, mode pricing.Mode) string {
	price := f.pricer.Apply(deal, mode)
	if deal.PricingModel == models.PricingCPL {
		if price.CPL == nil {
			return string(models.PricingCPL)
		}
		return fmt.Sprintf("CPL %s", num(*price.CPL))
	}

	var parts []string
	if price.CPA != nil {
		parts = append(parts, "CPA "+num(*price.CPA))
	}
	if price.CRG != nil {
		parts = append(parts, num(*price.CRG*100)+"%")
	}
	if len(parts) == 0 {
		return string(deal.PricingModel)
	}
	return strings.Join(parts, " + ")
}

// SelectionPage renders the current page of the SELECTING view with its
// select/nav/action keyboard.
func (f *Formatter) SelectionPage(snap session.Snapshot, edit bool) Render {
	if len(snap.Deals) == 0 {
		return Render{
			Text: "No deals found matching your criteria. Try a different search query.",
			Buttons: [][]Button{{
				{Label: "❌ Cancel", Payload: Callback{Action: ActionCancel}.Encode()},
			}},
			Edit: edit,
		}
	}

	start := snap.Page * snap.PageSize
	end := start + snap.PageSize
	if end > len(snap.Deals) {
		end = len(snap.Deals)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Deals %d–%d of %d · %s pricing\n",
		start+1, end, len(snap.Deals), snap.Mode)

	var selectRow []Button
	for i := start; i < end; i++ {
		deal := snap.Deals[i]
		mark := "▫️"
		if snap.Selected[deal.ID] {
			mark = "✅"
		}
		fmt.Fprintf(&b, "\n%d. %s %s\n", i+1, mark, f.DealLine(deal, snap.Mode))
		selectRow = append(selectRow, Button{
			Label:   fmt.Sprintf("%s %d", mark, i+1),
			Payload: Callback{Action: ActionSelect, DealID: deal.ID}.Encode(),
		})
	}

	var navRow []Button
	if snap.Page > 0 {
		navRow = append(navRow, Button{
			Label:   "⬅️ Previous",
			Payload: Callback{Action: ActionPrev, Page: snap.Page - 1}.Encode(),
		})
	}
	if snap.Page < snap.TotalPages-1 {
		navRow = append(navRow, Button{
			Label:   "Next ➡️",
			Payload: Callback{Action: ActionNext, Page: snap.Page + 1}.Encode(),
		})
	}

	var actionRow []Button
	actionRow = append(actionRow, Button{
		Label:   "💰 " + string(snap.Mode.Toggle()) + " pricing",
		Payload: Callback{Action: ActionPriceToggle}.Encode(),
	})
	if len(snap.Selected) > 0 {
		actionRow = append(actionRow, Button{
			Label:   fmt.Sprintf("📦 Selected (%d)", len(snap.Selected)),
			Payload: Callback{Action: ActionGetSelected}.Encode(),
		})
	}
	actionRow = append(actionRow, Button{
		Label:   "❌ Cancel",
		Payload: Callback{Action: ActionCancel}.Encode(),
	})

	buttons := [][]Button{selectRow}
	if len(navRow) > 0 {
		buttons = append(buttons, navRow)
	}
	buttons = append(buttons, actionRow)

	return Render{Text: b.String(), Buttons: buttons, Edit: edit}
}

// Review renders the REVIEWING view: every selected deal with its price
// under the session's pricing mode.
func (f *Formatter) Review(snap session.Snapshot) Render {
	var b strings.Builder
	fmt.Fprintf(&b, "📦 Selected deals (%d) · %s pricing\n", len(snap.Selected), snap.Mode)
	for _, deal := range selectedDeals(snap) {
		b.WriteString("\n" + f.DealLine(deal, snap.Mode) + "\n")
	}

	buttons := [][]Button{
		{
			{Label: "📄 Copy all", Payload: Callback{Action: ActionCopyAll}.Encode()},
			{Label: "💰 " + string(snap.Mode.Toggle()) + " pricing", Payload: Callback{Action: ActionPriceToggle}.Encode()},
		},
		{
			{Label: "⬅️ Back", Payload: Callback{Action: ActionBackSelect}.Encode()},
			{Label: "❌ Cancel", Payload: Callback{Action: ActionCancel}.Encode()},
		},
	}
	return Render{Text: b.String(), Buttons: buttons, Edit: true}
}

// Export renders the plain-text export block of the selection, one deal per
// paragraph, ready to paste.
func (f *Formatter) Export(snap session.Snapshot) Render {
	var lines []string
	for _, deal := range selectedDeals(snap) {
		lines = append(lines, f.DealLine(deal, snap.Mode))
	}
	return Render{Text: strings.Join(lines, "\n\n")}
}

// selectedDeals keeps result-list order, which makes renders stable.
func selectedDeals(snap session.Snapshot) []models.Deal {
	var out []models.Deal
	for _, deal := range snap.Deals {
		if snap.Selected[deal.ID] {
			out = append(out, deal)
		}
	}
	return out
}

// num formats a price number without trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Welcome is the /start message.
func Welcome() Render {
	return Render{Text: "👋 Welcome to the Deal Search Bot!\n\n" +
		"I can help you search for deals using natural language. " +
		"Just describe what you're looking for, and I'll find the most relevant deals.\n\n" +
		"For example, try:\n" +
		"- 'Show me deals from India'\n" +
		"- 'Find offers with CPA pricing model'\n" +
		"- 'Search for deals from partner XYZ'\n\n" +
		"Use /help to see more options."}
}

// Help is the /help message.
func Help() Render {
	return Render{Text: "🔍 Here's how to use the Deal Search Bot:\n\n" +
		"1. Search by country/region:\n" +
		"   - 'Show deals from UK'\n" +
		"   - 'Find offers in LATAM countries'\n\n" +
		"2. Search by traffic source:\n" +
		"   - 'Facebook deals'\n" +
		"   - 'Google traffic offers'\n\n" +
		"3. Search by partner:\n" +
		"   - 'Deals from partner XYZ'\n\n" +
		"4. Search by pricing model:\n" +
		"   - 'CPA offers'\n" +
		"   - 'CPL deals'\n\n" +
		"5. Combine criteria:\n" +
		"   - 'Facebook deals from UK with CPA model'\n\n" +
		"Use natural language - I'll understand what you're looking for! 😊"}
}

// SessionExpired is the soft failure for actions on a missing session.
func SessionExpired() Render {
	return Render{Text: "Session expired. Please start a new search."}
}

// TryAgain is the generic user-visible failure message. Internal details
// are logged, never leaked here.
func TryAgain() Render {
	return Render{Text: "Sorry, I encountered an error while processing your request. Please try again."}
}

// LowConfidence warns that a parse was mostly unrecognized; the search still
// ran.
func LowConfidence(r Render) Render {
	r.Text = "⚠️ I wasn't sure about parts of that query.\n\n" + r.Text
	return r
}
