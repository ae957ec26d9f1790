package entity

// Player is one connected participant. ID identifies the connection; Name is
// the display name, unique among players in unfinished matches.
type Player struct {
	ID   string
	Name string
	Role Role
}
