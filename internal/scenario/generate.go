package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const avatarBaseURL = "https://api.dicebear.com/7.x/personas/svg"

// Options tunes a single Generate call. The zero value samples with the
// process-wide random source.
type Options struct {
	Difficulty Difficulty
	// Rand makes sampling reproducible. It is not safe for concurrent use.
	Rand *rand.Rand
	Now  func() time.Time
}

// NewRand returns a deterministic source for Options.Rand.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Generate samples a fresh scenario for track and channel.
func Generate(track Track, channel Channel, opts Options) (Scenario, error) {
	if !track.Valid() {
		return Scenario{}, &InputError{Kind: ErrInvalidTrack, Value: string(track)}
	}
	if !channel.Valid() {
		return Scenario{}, &InputError{Kind: ErrInvalidChannel, Value: string(channel)}
	}
	if opts.Difficulty != "" && !opts.Difficulty.Valid() {
		return Scenario{}, &InputError{Kind: ErrInvalidDifficulty, Value: string(opts.Difficulty)}
	}

	pick := rand.IntN
	if opts.Rand != nil {
		pick = opts.Rand.IntN
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	candidates := Templates(track)
	if opts.Difficulty != "" {
		filtered := make([]Template, 0, len(candidates))
		for _, tmpl := range candidates {
			if tmpl.Difficulty == opts.Difficulty {
				filtered = append(filtered, tmpl)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	tmpl := candidates[pick(len(candidates))]

	persona := Persona{
		FirstName:     FirstNames[pick(len(FirstNames))],
		LastName:      LastNames[pick(len(LastNames))],
		City:          Cities[pick(len(Cities))],
		Brokerage:     Brokerages[pick(len(Brokerages))],
		Personality:   Personalities[pick(len(Personalities))],
		PropertyType:  PropertyTypes[pick(len(PropertyTypes))],
		SquareFootage: SquareFootages[pick(len(SquareFootages))],
		ListingPrice:  ListingPrices[pick(len(ListingPrices))],
		HiddenGoal:    tmpl.HiddenGoal,
		PainPoints:    cloneStrings(tmpl.PainPoints),
		Objections:    cloneStrings(tmpl.Objections),
		DealBreakers:  cloneStrings(tmpl.DealBreakers),
	}
	persona.DisplayName = persona.FirstName + " " + persona.LastName
	persona.AvatarURL = AvatarURL(persona)

	replacer := strings.NewReplacer(
		"{name}", persona.DisplayName,
		"{company}", persona.Brokerage,
		"{city}", persona.City,
		"{property_type}", persona.PropertyType,
		"{sqft}", persona.SquareFootage,
		"{price}", persona.ListingPrice,
	)

	return Scenario{
		ID:              uuid.NewString(),
		Track:           track,
		TemplateID:      tmpl.ID,
		Title:           tmpl.Title,
		Category:        tmpl.Category,
		Difficulty:      tmpl.Difficulty,
		Channel:         channel,
		Persona:         persona,
		Brief:           replacer.Replace(tmpl.Brief),
		SuccessCriteria: cloneStrings(tmpl.SuccessCriteria),
		OpeningLine:     replacer.Replace(tmpl.Opening),
		MaxUserTurns:    DefaultMaxUserTurns,
		TimeLimit:       DefaultTimeLimit,
		CreatedAt:       now().UTC(),
	}, nil
}

// AvatarURL derives a stable cosmetic avatar for a persona. Identical
// personas always get the same image.
func AvatarURL(p Persona) string {
	sum := sha256.Sum256([]byte(p.FirstName + "|" + p.LastName + "|" + p.Brokerage + "|" + p.City))
	seed := hex.EncodeToString(sum[:8])
	return avatarBaseURL + "?seed=" + url.QueryEscape(seed)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
