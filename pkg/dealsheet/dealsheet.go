package dealsheet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ebrland/orchestrator/pkg/cache"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

// descriptionTTL bounds how long a cached AI description is reused before a
// deal sheet regenerates it, and is also the DealSheet's ExpiresAt horizon.
const descriptionTTL = 24 * time.Hour

// Generator assembles the full deal sheet for a lead: the computed offer
// range plus a short call-prep script a negotiator can read from, and
// (when an LLM is configured) a short AI-written buyer-facing description.
type Generator struct {
	store store.Store
	llm   types.LLM
	cache *cache.Cache
	now   func() time.Time
}

func NewGenerator(s store.Store) *Generator {
	return &Generator{store: s, now: time.Now}
}

// WithLLM attaches an LLM and optional response cache for narrative
// description generation. Both are optional: a Generator with neither set
// still produces a fully usable deal sheet, just without AIDescription.
func (g *Generator) WithLLM(llm types.LLM, c *cache.Cache) *Generator {
	g.llm = llm
	g.cache = c
	return g
}

// Generate builds the deal sheet for leadID, returning an offer range with
// CanMakeOffer=false (never a fabricated number) when the parcel data is
// insufficient.
func (g *Generator) Generate(ctx context.Context, leadID int64) (*types.DealSheet, error) {
	lead, err := g.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	parcel, err := g.store.GetParcel(ctx, lead.ParcelID)
	if err != nil {
		parcel = nil
	}

	offer := ComputeOfferRange(parcel)
	script := CallScript(lead, parcel, offer)
	now := g.now()

	return &types.DealSheet{
		LeadID:        leadID,
		OfferRange:    offer,
		Script:        script,
		AIDescription: g.describe(ctx, leadID, parcel, offer),
		GeneratedAt:   now,
		ExpiresAt:     now.Add(descriptionTTL),
	}, nil
}

// describe returns a short AI-written description of the property and
// opportunity, cached per lead for descriptionTTL. It never fails the
// overall deal sheet: a missing LLM, cache miss, or API error all just
// yield an empty description.
func (g *Generator) describe(ctx context.Context, leadID int64, parcel *types.Parcel, offer types.OfferRange) string {
	if g.llm == nil || !offer.CanMakeOffer {
		return ""
	}
	key := "dealsheet:description:" + strconv.FormatInt(leadID, 10)
	if cached, ok := g.cache.Get(ctx, key); ok {
		return cached
	}

	address := "this property"
	if parcel != nil && parcel.SitusAddress != "" {
		address = parcel.SitusAddress
	}
	prompt := fmt.Sprintf(
		"Write a two-sentence buyer-facing description of a land investment opportunity at %s, offer range $%d-$%d. No hype, just facts.",
		address, offer.Low, offer.High,
	)

	description, err := g.llm.Describe(ctx, prompt)
	if err != nil {
		return ""
	}
	g.cache.Set(ctx, key, description, descriptionTTL)
	return description
}

// CallScript renders a short negotiator script summarizing the property
// and the offer range (or the reason an offer can't be made yet).
func CallScript(lead *types.Lead, parcel *types.Parcel, offer types.OfferRange) string {
	var b strings.Builder

	address := "this property"
	if parcel != nil && parcel.SitusAddress != "" {
		address = parcel.SitusAddress
	}
	fmt.Fprintf(&b, "Property: %s\n", address)
	fmt.Fprintf(&b, "Motivation score: %d\n", lead.MotivationScore)

	if !offer.CanMakeOffer {
		fmt.Fprintf(&b, "Offer: cannot compute - %s\n", offer.Reason)
		return b.String()
	}

	fmt.Fprintf(&b, "Offer range: $%s - $%s\n", formatThousands(offer.Low), formatThousands(offer.High))
	if low, high, ok := PricePerAcre(offer); ok {
		fmt.Fprintf(&b, "Per acre: $%s - $%s\n", formatThousands(low), formatThousands(high))
	}
	for _, j := range offer.Justifications {
		fmt.Fprintf(&b, "- %s\n", j)
	}
	if len(offer.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings: %s\n", strings.Join(offer.Warnings, ", "))
	}
	return b.String()
}

func formatThousands(v int) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
