// Package rpc is the JSON-RPC 2.0 surface: envelope handling, bearer-token
// authorization, per-call audit, and the method handlers.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version accepted and emitted.
const Version = "2.0"

// Method names. Exposure and role grouping live in the dispatcher table.
const (
	MethodGetElement               = "get_element"
	MethodGetArea                  = "get_area"
	MethodSearch                   = "search"
	MethodCreateInvoice            = "create_invoice"
	MethodGetInvoice               = "get_invoice"
	MethodPaywallAddElementComment = "paywall_add_element_comment"
	MethodPaywallBoostElement      = "paywall_boost_element"

	MethodSetElementTag     = "set_element_tag"
	MethodRemoveElementTag  = "remove_element_tag"
	MethodBoostElement      = "boost_element"
	MethodAddElementComment = "add_element_comment"
	MethodSetAreaTag        = "set_area_tag"
	MethodRemoveAreaTag     = "remove_area_tag"
	MethodAddArea           = "add_area"
	MethodRemoveArea        = "remove_area"

	MethodAddAdmin          = "add_admin"
	MethodAddAdminAction    = "add_admin_action"
	MethodRemoveAdminAction = "remove_admin_action"

	MethodGenerateReports              = "generate_reports"
	MethodGenerateElementIssues        = "generate_element_issues"
	MethodGenerateAreasElementsMapping = "generate_areas_elements_mapping"
	MethodSyncElements                 = "sync_elements"
	MethodSyncUnpaidInvoices           = "sync_unpaid_invoices"
	MethodSyncUsers                    = "sync_users"

	MethodAddEvent    = "add_event"
	MethodDeleteEvent = "delete_event"

	MethodSubmitPlace          = "submit_place"
	MethodRevokeSubmittedPlace = "revoke_submitted_place"
	MethodGetSubmittedPlace    = "get_submitted_place"
	MethodSyncSubmittedPlaces  = "sync_submitted_places"
)

// Error codes. The -32000 range carries authorization and lookup failures,
// the -32600 range the standard envelope failures.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUnauthorized   = -32000
	CodeForbidden      = -32001
	CodeNotFound       = -32004
)

// Error is a JSON-RPC error object. Handlers return it as a plain error to
// pick their own code; anything else maps to CodeInternal.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is the envelope of one call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the reply envelope. Exactly one of Result and Error is set;
// ID echoes the request id and is null when the request never parsed.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}
