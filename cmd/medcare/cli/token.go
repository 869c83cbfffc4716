package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/medcare-hms/medcare/internal/shared"
)

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(actor shared.Actor, ttl time.Duration) (string, error)
}

// TokenOptions configures TokenCommand.
type TokenOptions struct {
	ActorID int64
	Role    string
	TTL     time.Duration
	JSON    bool
	Out     io.Writer
}

var knownRoles = map[string]struct{}{
	shared.RoleAdmin:      {},
	shared.RoleCashier:    {},
	shared.RolePharmacist: {},
	shared.RoleLabTech:    {},
}

// TokenCommand prints a bearer token for local operations and returns the exit code.
func TokenCommand(issuer TokenIssuer, opts TokenOptions) int {
	if _, ok := knownRoles[opts.Role]; !ok {
		fmt.Fprintf(opts.Out, "unknown role %q\n", opts.Role)
		return 2
	}
	if opts.TTL <= 0 {
		opts.TTL = 8 * time.Hour
	}
	token, err := issuer.Issue(shared.Actor{ID: opts.ActorID, Role: opts.Role}, opts.TTL)
	if err != nil {
		fmt.Fprintf(opts.Out, "issue token: %v\n", err)
		return 1
	}
	if !opts.JSON {
		fmt.Fprintln(opts.Out, token)
		return 0
	}
	enc := json.NewEncoder(opts.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"token":      token,
		"actor_id":   opts.ActorID,
		"role":       opts.Role,
		"expires_in": int64(opts.TTL.Seconds()),
	}); err != nil {
		return 1
	}
	return 0
}
