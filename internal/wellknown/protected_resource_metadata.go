// Package wellknown holds the OAuth 2.0 Protected Resource Metadata
// document shape (RFC 9728) served at
// /.well-known/oauth-protected-resource.
package wellknown

// ProtectedResourceMetadata is the discovery document that tells an
// untrusted client where this resource's tokens are issued.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}
