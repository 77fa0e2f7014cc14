// Package authz implements the static permission catalog that gates every
// admin-protocol operation proxied to a conductor. Unlike a general
// relationship graph, the catalog is a total order over three tiers and a
// fixed operation table: there is nothing to write at runtime, only to
// check.
package authz

import "fmt"

// Tier is one of the three permission levels, totally ordered
// Public < Authenticated < Admin.
type Tier int

const (
	Public Tier = iota
	Authenticated
	Admin
)

func (t Tier) String() string {
	switch t {
	case Public:
		return "PUBLIC"
	case Authenticated:
		return "AUTHENTICATED"
	case Admin:
		return "ADMIN"
	default:
		return fmt.Sprintf("TIER(%d)", int(t))
	}
}

// operationTiers maps each known admin operation to the tier required to
// invoke it. Operations absent from this table are unknown and denied by
// default regardless of caller tier.
var operationTiers = map[string]Tier{
	// Public — read-only status queries.
	"list_apps":            Public,
	"list_app_interfaces":  Public,
	"agent_info":           Public,
	"storage_info":         Public,
	"dump_network_stats":   Public,

	// Authenticated — normal dev workflow.
	"generate_agent_pub_key":         Authenticated,
	"grant_zome_call_capability":     Authenticated,
	"revoke_zome_call_capability":    Authenticated,
	"authorize_signing_credentials":  Authenticated,
	"attach_app_interface":           Authenticated,
	"issue_app_authentication_token": Authenticated,
	"list_capability_grants":         Authenticated,
	"list_dnas":                      Authenticated,
	"list_cell_ids":                  Authenticated,
	"get_dna_definition":             Authenticated,
	"dump_state":                     Authenticated,
	"dump_full_state":                Authenticated,

	// Admin — destructive operations.
	"install_app":          Admin,
	"enable_app":           Admin,
	"disable_app":          Admin,
	"uninstall_app":        Admin,
	"update_coordinators":  Admin,
	"delete_clone_cell":    Admin,
	"add_agent_info":       Admin,
	"revoke_agent_key":     Admin,
}

var operationDescriptions = map[string]string{
	"list_apps":                      "List installed apps",
	"list_app_interfaces":            "List app interfaces",
	"agent_info":                     "Get agent info",
	"storage_info":                   "Get storage info",
	"dump_network_stats":             "Dump network statistics",
	"generate_agent_pub_key":         "Generate agent public key",
	"grant_zome_call_capability":     "Grant zome call capability",
	"revoke_zome_call_capability":    "Revoke zome call capability",
	"authorize_signing_credentials":  "Authorize signing credentials",
	"attach_app_interface":           "Attach app interface",
	"issue_app_authentication_token": "Issue app auth token",
	"list_capability_grants":         "List capability grants",
	"list_dnas":                      "List DNAs",
	"list_cell_ids":                  "List cell IDs",
	"get_dna_definition":             "Get DNA definition",
	"dump_state":                     "Dump state",
	"dump_full_state":                "Dump full state",
	"install_app":                    "Install app",
	"enable_app":                     "Enable app",
	"disable_app":                    "Disable app",
	"uninstall_app":                  "Uninstall app",
	"update_coordinators":            "Update coordinators",
	"delete_clone_cell":              "Delete clone cell",
	"add_agent_info":                 "Add agent info",
	"revoke_agent_key":               "Revoke agent key",
}

// RequiredTier returns the tier required to invoke operation, and whether
// the operation is known at all. An unknown operation must be denied by
// the caller regardless of the caller's own tier.
func RequiredTier(operation string) (Tier, bool) {
	t, ok := operationTiers[operation]
	return t, ok
}

// IsAllowed reports whether a caller holding level may invoke operation.
// Unknown operations are always denied (fail closed).
func IsAllowed(operation string, level Tier) bool {
	required, ok := RequiredTier(operation)
	if !ok {
		return false
	}
	return level >= required
}

// Describe returns a human-readable description of operation for audit
// logging, or "unknown operation" if operation isn't in the catalog.
func Describe(operation string) string {
	if d, ok := operationDescriptions[operation]; ok {
		return d
	}
	return "unknown operation"
}
