package rpc

import (
	"context"
	"fmt"

	"github.com/untoldecay/btcmap/internal/auth"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

type addAdminParams struct {
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type addAdminResult struct {
	UserID         int64    `json:"user_id"`
	Name           string   `json:"name"`
	Roles          []string `json:"roles"`
	AllowedMethods []string `json:"allowed_methods"`
	Token          string   `json:"token"`
}

// addAdmin creates an operator account and mints its first access token.
// The token secret appears in the result and nowhere else afterwards.
func (d *Dispatcher) addAdmin(ctx context.Context, call *Call) (any, error) {
	var p addAdminParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing name")
	}
	if p.Password == "" {
		return nil, Errorf(CodeInvalidParams, "missing password")
	}
	if len(p.Roles) == 0 {
		return nil, Errorf(CodeInvalidParams, "missing roles")
	}
	for _, r := range p.Roles {
		if !model.ValidRole(r) {
			return nil, Errorf(CodeInvalidParams, "unknown role %q", r)
		}
	}
	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	secret, err := auth.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to mint token secret: %w", err)
	}
	allowed := allowedMethodsFor(p.Roles)

	var user *model.User
	err = d.store.WithTx(ctx, func(tx *store.Tx) error {
		u, err := tx.InsertUser(ctx, p.Name, hash, p.Roles)
		if err != nil {
			return err
		}
		if _, err := tx.InsertAccessToken(ctx, u.ID, "initial", secret, allowed); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, Errorf(CodeInvalidParams, "name %q is taken", p.Name)
		}
		return nil, err
	}
	d.log.Info("created operator", "user", user.Name, "roles", user.Roles)
	return &addAdminResult{
		UserID:         user.ID,
		Name:           user.Name,
		Roles:          user.Roles,
		AllowedMethods: allowed,
		Token:          secret,
	}, nil
}

// allowedMethodsFor unions the role grants. Any root role collapses the
// list to the wildcard.
func allowedMethodsFor(roles []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range roles {
		for _, m := range RoleMethods(r) {
			if m == model.MethodWildcard {
				return []string{model.MethodWildcard}
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

type adminActionParams struct {
	User   string `json:"user"`
	Action string `json:"action"`
}

type adminActionResult struct {
	UserID int64 `json:"user_id"`
	Tokens int   `json:"tokens"`
}

// addAdminAction grants one method to every live token of the user.
func (d *Dispatcher) addAdminAction(ctx context.Context, call *Call) (any, error) {
	p, tokens, err := d.bindAdminAction(ctx, call)
	if err != nil {
		return nil, err
	}
	updated := 0
	for _, t := range tokens {
		if t.Allows(p.Action) {
			continue
		}
		methods := append(append([]string{}, t.AllowedMethods...), p.Action)
		if _, err := d.store.SetAccessTokenAllowedMethods(ctx, t.ID, methods); err != nil {
			return nil, err
		}
		updated++
	}
	return &adminActionResult{UserID: tokens[0].UserID, Tokens: updated}, nil
}

// removeAdminAction withdraws one method from every live token of the
// user. The wildcard is removable like any other entry.
func (d *Dispatcher) removeAdminAction(ctx context.Context, call *Call) (any, error) {
	p, tokens, err := d.bindAdminAction(ctx, call)
	if err != nil {
		return nil, err
	}
	updated := 0
	for _, t := range tokens {
		methods := make([]string, 0, len(t.AllowedMethods))
		for _, m := range t.AllowedMethods {
			if m != p.Action {
				methods = append(methods, m)
			}
		}
		if len(methods) == len(t.AllowedMethods) {
			continue
		}
		if _, err := d.store.SetAccessTokenAllowedMethods(ctx, t.ID, methods); err != nil {
			return nil, err
		}
		updated++
	}
	return &adminActionResult{UserID: tokens[0].UserID, Tokens: updated}, nil
}

func (d *Dispatcher) bindAdminAction(ctx context.Context, call *Call) (*adminActionParams, []*model.AccessToken, error) {
	var p adminActionParams
	if err := call.bind(&p); err != nil {
		return nil, nil, err
	}
	if p.User == "" {
		return nil, nil, Errorf(CodeInvalidParams, "missing user")
	}
	if _, known := d.methods[p.Action]; !known && p.Action != model.MethodWildcard {
		return nil, nil, Errorf(CodeInvalidParams, "unknown action %q", p.Action)
	}
	u, err := d.store.SelectUserByName(ctx, p.User)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := d.store.SelectAccessTokensByUser(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(tokens) == 0 {
		return nil, nil, Errorf(CodeNotFound, "user %q has no live tokens", p.User)
	}
	return &p, tokens, nil
}

type reportRunResult struct {
	Areas   int `json:"areas"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

func (d *Dispatcher) generateReports(ctx context.Context, call *Call) (any, error) {
	if d.deps.Report == nil {
		return nil, Errorf(CodeInternal, "reports are not configured")
	}
	res, err := d.deps.Report.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &reportRunResult{Areas: res.Areas, Created: res.Created, Skipped: res.Skipped}, nil
}

type issueRunResult struct {
	Elements int `json:"elements"`
	Affected int `json:"affected"`
	Swept    int `json:"swept"`
}

func (d *Dispatcher) generateElementIssues(ctx context.Context, call *Call) (any, error) {
	if d.deps.Issue == nil {
		return nil, Errorf(CodeInternal, "issue generation is not configured")
	}
	res, err := d.deps.Issue.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &issueRunResult{Elements: res.Elements, Affected: res.Affected, Swept: res.Swept}, nil
}

type mappingRunResult struct {
	Elements int `json:"elements"`
	Changed  int `json:"changed"`
}

func (d *Dispatcher) generateAreasElementsMapping(ctx context.Context, call *Call) (any, error) {
	if d.deps.Geo == nil {
		return nil, Errorf(CodeInternal, "area mapping is not configured")
	}
	res, err := d.deps.Geo.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &mappingRunResult{Elements: res.Elements, Changed: res.Changed}, nil
}

type mergeRunResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// syncElements pulls a fresh upstream snapshot and merges it.
func (d *Dispatcher) syncElements(ctx context.Context, call *Call) (any, error) {
	if d.deps.Overpass == nil || d.deps.Merge == nil {
		return nil, Errorf(CodeInternal, "upstream sync is not configured")
	}
	snapshot, err := d.deps.Overpass.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res, err := d.deps.Merge.Run(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	return &mergeRunResult{Created: res.Created, Updated: res.Updated, Deleted: res.Deleted}, nil
}

type invoicePollResult struct {
	Settled int `json:"settled"`
}

func (d *Dispatcher) syncUnpaidInvoices(ctx context.Context, call *Call) (any, error) {
	if d.deps.Invoice == nil {
		return nil, Errorf(CodeInternal, "invoicing is not configured")
	}
	settled, err := d.deps.Invoice.Poll(ctx)
	if err != nil {
		return nil, err
	}
	return &invoicePollResult{Settled: settled}, nil
}

type userSyncResult struct {
	Users   int `json:"users"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

func (d *Dispatcher) syncUsers(ctx context.Context, call *Call) (any, error) {
	if d.deps.OsmUsers == nil {
		return nil, Errorf(CodeInternal, "user sync is not configured")
	}
	res, err := d.deps.OsmUsers.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &userSyncResult{Users: res.Users, Updated: res.Updated, Failed: res.Failed}, nil
}
