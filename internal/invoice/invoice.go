// Package invoice creates lightning payment requests that gate paid
// actions, and applies those actions once the payments settle.
//
// The description of every invoice encodes the deferred action:
//
//	element_comment:<comment_id>:publish
//	element_boost:<element_id>:<days>
//
// Backends are resolved from the conf table at call time so operators can
// rotate keys without a restart.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/moderation"
	"github.com/untoldecay/btcmap/internal/store"
)

// PollWindow bounds how long an unpaid invoice keeps being checked against
// its backend. Lightning invoices expire well before this.
const PollWindow = time.Hour

// Fallback prices in satoshi, used when the conf table carries none.
const (
	DefaultCommentPriceSat   = 500
	DefaultBoost30dPriceSat  = 5000
	DefaultBoost90dPriceSat  = 10000
	DefaultBoost365dPriceSat = 30000
)

// ErrNoProvider means neither lnbits nor lnd credentials are configured.
var ErrNoProvider = errors.New("no lightning backend configured")

// ErrUnsupportedPeriod rejects boost durations that have no price.
var ErrUnsupportedPeriod = errors.New("unsupported boost period")

// Action kinds decoded from invoice descriptions.
const (
	ActionPublishComment = "publish_comment"
	ActionBoostElement   = "boost_element"
	ActionUnknown        = "unknown"
)

// Action is the deferred effect of a settling invoice.
type Action struct {
	Kind      string
	CommentID int64
	ElementID int64
	Days      int64
}

// CommentDescription encodes the publish-on-payment action for a pending
// comment.
func CommentDescription(commentID int64) string {
	return fmt.Sprintf("element_comment:%d:publish", commentID)
}

// BoostDescription encodes the boost-on-payment action.
func BoostDescription(elementID, days int64) string {
	return fmt.Sprintf("element_boost:%d:%d", elementID, days)
}

// ParseDescription decodes an invoice description. Anything that does not
// match the grammar comes back as ActionUnknown rather than an error:
// settlement must not fail just because a description rotted.
func ParseDescription(s string) Action {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Action{Kind: ActionUnknown}
	}
	switch parts[0] {
	case "element_comment":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 || parts[2] != "publish" {
			return Action{Kind: ActionUnknown}
		}
		return Action{Kind: ActionPublishComment, CommentID: id}
	case "element_boost":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		days, derr := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || derr != nil || id <= 0 || days <= 0 {
			return Action{Kind: ActionUnknown}
		}
		return Action{Kind: ActionBoostElement, ElementID: id, Days: days}
	}
	return Action{Kind: ActionUnknown}
}

// Notifier receives a line whenever an invoice settles.
type Notifier interface {
	Send(ctx context.Context, message string)
}

// Engine issues invoices and polls for their settlement.
type Engine struct {
	store     *store.Store
	log       *slog.Logger
	lnbitsURL string
	lndURL    string
	notifier  Notifier
}

func New(s *store.Store, log *slog.Logger, lnbitsURL, lndURL string) *Engine {
	return &Engine{store: s, log: log, lnbitsURL: lnbitsURL, lndURL: lndURL}
}

// WithNotifier returns a copy of the engine that announces settlements.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	return &Engine{store: e.store, log: e.log, lnbitsURL: e.lnbitsURL, lndURL: e.lndURL, notifier: n}
}

// CreateComment stores the comment in the pending (tombstoned) state and
// returns the invoice that publishes it once paid.
func (e *Engine) CreateComment(ctx context.Context, elementID int64, comment string) (*model.Invoice, error) {
	price, err := e.store.GetConfInt64(ctx, store.ConfCommentPriceSat, DefaultCommentPriceSat)
	if err != nil {
		return nil, err
	}
	pending, err := e.store.InsertPendingElementComment(ctx, elementID, comment)
	if err != nil {
		return nil, err
	}
	return e.create(ctx, CommentDescription(pending.ID), price)
}

// CreateBoost returns the invoice that extends the element's boost by days
// once paid. Only the priced periods are accepted.
func (e *Engine) CreateBoost(ctx context.Context, elementID, days int64) (*model.Invoice, error) {
	var key string
	var def int64
	switch days {
	case 30:
		key, def = store.ConfBoost30dPriceSat, DefaultBoost30dPriceSat
	case 90:
		key, def = store.ConfBoost90dPriceSat, DefaultBoost90dPriceSat
	case 365:
		key, def = store.ConfBoost365dPriceSat, DefaultBoost365dPriceSat
	default:
		return nil, fmt.Errorf("%w: %d days", ErrUnsupportedPeriod, days)
	}
	price, err := e.store.GetConfInt64(ctx, key, def)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.SelectElementByID(ctx, elementID); err != nil {
		return nil, err
	}
	return e.create(ctx, BoostDescription(elementID, days), price)
}

// Create opens an invoice with a caller-supplied description. Descriptions
// outside the recognized action grammar settle without side effects, which
// covers donations and callers that track fulfillment themselves.
func (e *Engine) Create(ctx context.Context, amountSats int64, description string) (*model.Invoice, error) {
	return e.create(ctx, description, amountSats)
}

func (e *Engine) create(ctx context.Context, description string, amountSats int64) (*model.Invoice, error) {
	source, p, err := e.provider(ctx)
	if err != nil {
		return nil, err
	}
	pi, err := p.CreateInvoice(ctx, amountSats, description)
	if err != nil {
		return nil, err
	}
	inv, err := e.store.InsertInvoice(ctx, uuid.New().String(), source, description, amountSats, pi.PaymentHash, pi.PaymentRequest)
	if err != nil {
		return nil, err
	}
	e.log.Info("created invoice",
		"uuid", inv.UUID,
		"source", source,
		"amount_sats", amountSats,
		"description", description)
	return inv, nil
}

// Poll checks every unpaid invoice inside the polling window against its
// backend and settles the paid ones. Backend failures skip the invoice and
// leave it for the next round.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	pending, err := e.store.SelectUnpaidInvoicesCreatedAfter(ctx, model.Now().Add(-PollWindow))
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, inv := range pending {
		p, err := e.providerFor(ctx, inv.Source)
		if err != nil {
			e.log.Warn("cannot check invoice", "uuid", inv.UUID, "source", inv.Source, "error", err)
			continue
		}
		paid, err := p.IsPaid(ctx, inv.PaymentHash)
		if err != nil {
			e.log.Warn("failed to check invoice", "uuid", inv.UUID, "error", err)
			continue
		}
		if !paid {
			continue
		}
		if err := e.settle(ctx, inv); err != nil {
			e.log.Error("failed to settle invoice", "uuid", inv.UUID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// settle flips the invoice to paid and applies its deferred action in one
// transaction. Losing the flip means a concurrent poll already applied it.
func (e *Engine) settle(ctx context.Context, inv *model.Invoice) error {
	action := ParseDescription(inv.Description)
	var flipped bool
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		flipped, err = tx.MarkInvoicePaid(ctx, inv.ID)
		if err != nil || !flipped {
			return err
		}
		return e.apply(ctx, tx, inv, action)
	})
	if err != nil || !flipped {
		return err
	}
	e.log.Info("invoice settled",
		"uuid", inv.UUID,
		"description", inv.Description,
		"amount_sats", inv.AmountSats)
	if e.notifier != nil {
		e.notifier.Send(ctx, fmt.Sprintf("invoice settled: %s (%d sats)", inv.Description, inv.AmountSats))
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, tx *store.Tx, inv *model.Invoice, action Action) error {
	switch action.Kind {
	case ActionPublishComment:
		c, err := tx.SetElementCommentDeletedAt(ctx, action.CommentID, nil)
		if err != nil {
			return err
		}
		_, err = moderation.RefreshCommentsCount(ctx, tx, c.ElementID)
		return err
	case ActionBoostElement:
		_, err := moderation.BoostElement(ctx, tx, action.ElementID, action.Days)
		return err
	default:
		e.log.Warn("paid invoice carries unknown description",
			"uuid", inv.UUID,
			"description", inv.Description)
		return nil
	}
}

func (e *Engine) provider(ctx context.Context) (string, Provider, error) {
	key, err := e.store.GetConfDefault(ctx, store.ConfLnbitsInvoiceKey, "")
	if err != nil {
		return "", nil, err
	}
	if key != "" && e.lnbitsURL != "" {
		return model.InvoiceSourceLnbits, NewLnbitsClient(e.lnbitsURL, key), nil
	}
	mac, err := e.store.GetConfDefault(ctx, store.ConfLndMacaroon, "")
	if err != nil {
		return "", nil, err
	}
	if mac != "" && e.lndURL != "" {
		return model.InvoiceSourceLnd, NewLndClient(e.lndURL, mac), nil
	}
	return "", nil, ErrNoProvider
}

func (e *Engine) providerFor(ctx context.Context, source string) (Provider, error) {
	switch source {
	case model.InvoiceSourceLnbits:
		key, err := e.store.GetConfDefault(ctx, store.ConfLnbitsInvoiceKey, "")
		if err != nil {
			return nil, err
		}
		if key == "" || e.lnbitsURL == "" {
			return nil, ErrNoProvider
		}
		return NewLnbitsClient(e.lnbitsURL, key), nil
	case model.InvoiceSourceLnd:
		mac, err := e.store.GetConfDefault(ctx, store.ConfLndMacaroon, "")
		if err != nil {
			return nil, err
		}
		if mac == "" || e.lndURL == "" {
			return nil, ErrNoProvider
		}
		return NewLndClient(e.lndURL, mac), nil
	default:
		return nil, fmt.Errorf("unknown invoice source %q", source)
	}
}
