package authflowrepo

import "time"

// AuthFlowState is what the backend remembers between sending the browser to
// an external provider and receiving its callback.
type AuthFlowState struct {
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"codeVerifier"`
	Nonce        string    `json:"nonce"`
	ReturnURL    string    `json:"returnUrl"` // Console URL that receives the session tokens
	CreatedAt    time.Time `json:"createdAt"`
}

// Repo stores flow state keyed by the OAuth state parameter. Take returns and
// removes the entry so each state is redeemed at most once.
type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Take(state string) (*AuthFlowState, error)
}
