package sessions

import (
	"time"

	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
)

// Transaction is the in-flight state of one authorization request while the user is
// asked for consent. It lives between the /authorize request and the user's decision.
type Transaction struct {
	ID           string                  // Unique transaction identifier (UUID)
	UserID       string                  // The authenticated user the consent prompt was shown to
	Client       string                  // Serialized client, see Serializer
	RedirectURI  string                  // Validated redirect URI from the original request
	Scopes       []string                // Requested scope set
	ResponseType oauthmodel.ResponseType // code or token
	State        string                  // Opaque client state echoed back in the redirect
	CreatedAt    time.Time               // When the transaction was created
}
