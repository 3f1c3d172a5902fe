package domain

// Actor is the caller identity used for gated evaluation. Empty fields count as not provided.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (a Actor) HasUser() bool { return a.UserID != "" }

func (a Actor) HasRole() bool { return a.Role != "" }
