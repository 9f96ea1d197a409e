package strategy

import (
	"context"
	"errors"
	"strings"
)

// Composite tries a list of strategies in order.
type Composite struct {
	members []Strategy
}

var (
	_ Strategy   = (*Composite)(nil)
	_ Challenger = (*Composite)(nil)
	_ Stateless  = (*Composite)(nil)
)

// NewComposite wraps members. The order decides precedence.
func NewComposite(members ...Strategy) *Composite {
	return &Composite{members: members}
}

// Members returns the wrapped strategies.
func (c *Composite) Members() []Strategy {
	return append([]Strategy(nil), c.members...)
}

func (c *Composite) Name() string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// Autologin returns the first member that authenticates. A member error
// stops the search.
func (c *Composite) Autologin(ctx context.Context, ex *Exchange) (int64, bool, error) {
	for _, m := range c.members {
		id, ok, err := m.Autologin(ctx, ex)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// Stateless reports true only when every member is stateless.
func (c *Composite) Stateless() bool {
	if len(c.members) == 0 {
		return false
	}
	for _, m := range c.members {
		if !IsStateless(m) {
			return false
		}
	}
	return true
}

// SetAutologin asks every member to persist evidence.
func (c *Composite) SetAutologin(ctx context.Context, ex *Exchange, userID int64) error {
	var errs []error
	for _, m := range c.members {
		if err := m.SetAutologin(ctx, ex, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoginHook uses the first member that accepts manual logins.
func (c *Composite) LoginHook(ctx context.Context, ex *Exchange, creds Credentials) (Credentials, bool) {
	for _, m := range c.members {
		if out, ok := m.LoginHook(ctx, ex, creds); ok {
			return out, true
		}
	}
	return creds, false
}

func (c *Composite) LogoutHook(ctx context.Context, ex *Exchange) error {
	var errs []error
	for _, m := range c.members {
		if err := m.LogoutHook(ctx, ex); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Composite) Challenge(ex *Exchange) {
	for _, m := range c.members {
		if ch, ok := m.(Challenger); ok {
			ch.Challenge(ex)
		}
	}
}
