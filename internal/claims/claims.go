// Package claims assembles token claims from layered templates.
//
// A template layer maps claim names to raw values. Raw values are parsed
// into a closed Value variant: a whole-string "{{path}}" becomes a
// TemplateRef, nil becomes Delete, and anything else is a Literal. Layers
// are merged global, then client, then user, and the result is resolved
// against a per-request Context.
package claims

import (
	"encoding/json"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/alexjbarnes/oauth-flow-sim/internal/models"
	"github.com/tidwall/gjson"
)

// Value is a parsed claim template value.
type Value interface {
	isValue()
}

// Literal is emitted as-is.
type Literal struct {
	V any
}

// TemplateRef is looked up in the request context by path.
type TemplateRef struct {
	Path string
}

// Delete removes an inherited claim during Merge.
type Delete struct{}

func (Literal) isValue()     {}
func (TemplateRef) isValue() {}
func (Delete) isValue()      {}

var templatePattern = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}$`)

// Parse converts a raw template value to a Value.
func Parse(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Delete{}
	case string:
		if m := templatePattern.FindStringSubmatch(v); m != nil {
			return TemplateRef{Path: m[1]}
		}

		return Literal{V: v}
	default:
		return Literal{V: v}
	}
}

// ParseLayer parses every value of a raw layer.
func ParseLayer(raw map[string]any) map[string]Value {
	out := make(map[string]Value, len(raw))
	for k, v := range raw {
		out[k] = Parse(v)
	}

	return out
}

// Merge overlays layers in order. Later layers override earlier ones and a
// Delete value removes the key. The result never contains Delete.
func Merge(layers ...map[string]Value) map[string]Value {
	out := make(map[string]Value)
	for _, layer := range layers {
		for k, v := range layer {
			if _, del := v.(Delete); del {
				delete(out, k)
				continue
			}

			out[k] = v
		}
	}

	return out
}

// ForRequest parses and merges the layers of cfg that apply to clientID
// and username.
func ForRequest(cfg models.ClaimConfig, clientID, username string) map[string]Value {
	return Merge(
		ParseLayer(cfg.Globals),
		ParseLayer(cfg.Clients[clientID]),
		ParseLayer(cfg.Users[username]),
	)
}

// Context is the per-request data templates resolve against.
type Context struct {
	Username string
	Client   string
	Scope    string
	Host     string
	IssuedAt time.Time
	Expiry   time.Time

	// User holds the profile claims of the resource owner, reachable with
	// dotted paths such as user.email.
	User map[string]any
}

// Lookup resolves a template path. Named fields are checked first; any
// other path is looked up in a JSON view of the context.
func (c Context) Lookup(path string) (any, bool) {
	switch path {
	case "username":
		return c.Username, true
	case "client", "aud":
		return c.Client, true
	case "scope":
		return c.Scope, true
	case "host":
		return c.Host, true
	case "now", "iat":
		return c.IssuedAt.Unix(), true
	case "exp":
		return c.Expiry.Unix(), true
	}

	doc, err := json.Marshal(c.document())
	if err != nil {
		return nil, false
	}

	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return nil, false
	}

	return res.Value(), true
}

func (c Context) document() map[string]any {
	user := maps.Clone(c.User)
	if user == nil {
		user = map[string]any{}
	}
	user["username"] = c.Username

	return map[string]any{
		"username": c.Username,
		"client":   c.Client,
		"aud":      c.Client,
		"scope":    c.Scope,
		"host":     c.Host,
		"now":      c.IssuedAt.Unix(),
		"iat":      c.IssuedAt.Unix(),
		"exp":      c.Expiry.Unix(),
		"user":     user,
	}
}

// Resolve produces final claims. Template references that do not resolve
// are omitted.
func Resolve(tmpl map[string]Value, ctx Context) map[string]any {
	out := make(map[string]any, len(tmpl))
	for k, v := range tmpl {
		switch v := v.(type) {
		case Literal:
			out[k] = v.V
		case TemplateRef:
			if val, ok := ctx.Lookup(v.Path); ok {
				out[k] = val
			}
		}
	}

	return out
}

// UserinfoClaims returns the claim names released by scopes. The scope
// mapping is merged global, then client, then user, with later layers
// replacing a scope's claim list.
func UserinfoClaims(us models.UserinfoScopes, clientID, username string, scopes []string) []string {
	merged := maps.Clone(us.Globals)
	if merged == nil {
		merged = map[string][]string{}
	}
	maps.Copy(merged, us.Clients[clientID])
	maps.Copy(merged, us.Users[username])

	set := make(map[string]struct{})
	for _, scope := range scopes {
		for _, claim := range merged[scope] {
			set[strings.TrimSpace(claim)] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(set))
}
