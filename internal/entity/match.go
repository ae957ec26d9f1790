package entity

// Phase is a match's state-machine state.
type Phase string

const (
	PhaseAwaitingOpponent Phase = "awaiting_opponent"
	PhaseInProgress       Phase = "in_progress"
	PhaseConcluded        Phase = "concluded"
)

// PlayerSnapshot is the public part of a seated player.
type PlayerSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// MatchSnapshot is a point-in-time copy of a match, safe to hand to storage.
type MatchSnapshot struct {
	ID            string           `json:"id"`
	Board         string           `json:"board"`
	Turn          string           `json:"turn"`
	Phase         Phase            `json:"phase"`
	Moves         int              `json:"moves"`
	Players       []PlayerSnapshot `json:"players,omitempty"`
	DrawOfferedBy string           `json:"draw_offered_by,omitempty"`
}

func (that *MatchSnapshot) IsConcluded() bool {
	return that.Phase == PhaseConcluded
}
