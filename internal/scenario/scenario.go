package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Track is the trainee's role for a session.
type Track string

const (
	TrackProjectManagement Track = "project_management"
	TrackSales             Track = "sales"
)

// Channel is the communication medium a session runs over.
type Channel string

const (
	ChannelPhoneCall Channel = "phone_call"
	ChannelTextChat  Channel = "text_chat"
	ChannelEmail     Channel = "email"
)

// Difficulty controls how hard the persona is to win over.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Category describes the kind of client situation a template models.
type Category string

const (
	CategoryNewClientInquiry     Category = "New Client Inquiry"
	CategoryUpsetClient          Category = "Upset Client"
	CategoryUpsellOpportunity    Category = "Upsell Opportunity"
	CategorySchedulingConflict   Category = "Scheduling Conflict"
	CategoryScopeChange          Category = "Scope Change"
	CategoryBudgetObjection      Category = "Budget Objection"
	CategoryCompetitorComparison Category = "Competitor Comparison"
	CategoryRushRequest          Category = "Rush Request"
	CategoryQualityComplaint     Category = "Quality Complaint"
	CategoryFollowUpClose        Category = "Follow-Up Close"
)

const (
	DefaultMaxUserTurns = 20
	DefaultTimeLimit    = 10 * time.Minute
)

var (
	ErrInvalidTrack      = errors.New("invalid track")
	ErrInvalidChannel    = errors.New("invalid channel")
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

// InputError reports a rejected caller-supplied value.
type InputError struct {
	Kind  error
	Value string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%v: %q", e.Kind, e.Value)
}

func (e *InputError) Unwrap() error { return e.Kind }

// Persona is the simulated client. It is fixed for the lifetime of a session.
type Persona struct {
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	DisplayName   string   `json:"display_name"`
	City          string   `json:"city"`
	Brokerage     string   `json:"brokerage"`
	Personality   string   `json:"personality"`
	HiddenGoal    string   `json:"hidden_goal"`
	PainPoints    []string `json:"pain_points"`
	Objections    []string `json:"objections"`
	DealBreakers  []string `json:"deal_breakers"`
	PropertyType  string   `json:"property_type"`
	SquareFootage string   `json:"square_footage"`
	ListingPrice  string   `json:"listing_price"`
	AvatarURL     string   `json:"avatar_url"`
}

// Scenario is the immutable brief a session is played against.
type Scenario struct {
	ID              string        `json:"id"`
	Track           Track         `json:"track"`
	TemplateID      string        `json:"template_id"`
	Title           string        `json:"title"`
	Category        Category      `json:"category"`
	Difficulty      Difficulty    `json:"difficulty"`
	Channel         Channel       `json:"channel"`
	Persona         Persona       `json:"persona"`
	Brief           string        `json:"brief"`
	SuccessCriteria []string      `json:"success_criteria"`
	OpeningLine     string        `json:"opening_line"`
	MaxUserTurns    int           `json:"max_user_turns"`
	TimeLimit       time.Duration `json:"time_limit"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ParseTrack accepts the canonical value or the display label.
func ParseTrack(raw string) (Track, error) {
	switch normalize(raw) {
	case "project_management", "project_manager", "pm":
		return TrackProjectManagement, nil
	case "sales":
		return TrackSales, nil
	}
	return "", &InputError{Kind: ErrInvalidTrack, Value: raw}
}

func ParseChannel(raw string) (Channel, error) {
	switch normalize(raw) {
	case "phone_call", "phone", "call":
		return ChannelPhoneCall, nil
	case "text_chat", "text", "chat", "sms":
		return ChannelTextChat, nil
	case "email":
		return ChannelEmail, nil
	}
	return "", &InputError{Kind: ErrInvalidChannel, Value: raw}
}

// ParseDifficulty treats an empty value as "any difficulty".
func ParseDifficulty(raw string) (Difficulty, error) {
	switch normalize(raw) {
	case "":
		return "", nil
	case "easy":
		return DifficultyEasy, nil
	case "medium":
		return DifficultyMedium, nil
	case "hard":
		return DifficultyHard, nil
	}
	return "", &InputError{Kind: ErrInvalidDifficulty, Value: raw}
}

func (t Track) Valid() bool {
	return t == TrackProjectManagement || t == TrackSales
}

func (c Channel) Valid() bool {
	return c == ChannelPhoneCall || c == ChannelTextChat || c == ChannelEmail
}

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Label is the human-facing track name.
func (t Track) Label() string {
	switch t {
	case TrackProjectManagement:
		return "Project Manager"
	case TrackSales:
		return "Sales"
	}
	return string(t)
}

func (c Channel) Label() string {
	switch c {
	case ChannelPhoneCall:
		return "Phone Call"
	case ChannelTextChat:
		return "Text Chat"
	case ChannelEmail:
		return "Email"
	}
	return string(c)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
