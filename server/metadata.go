package server

// DualValidationNote describes the dual PKCE arrangement in discovery documents
const DualValidationNote = "Server validates client PKCE and uses provider-compatible PKCE with backend"

// AuthorizationServerMetadata returns the RFC 8414 document: the provider's
// contribution extended with this server's endpoints and identity.
func (s *Server) AuthorizationServerMetadata() map[string]any {
	base := s.Config.BaseURL()
	metadata := s.provider.Metadata(base)
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata["mcpVersion"] = s.Config.MCPVersion
	metadata["serverName"] = s.Config.ServerName
	metadata["serverVersion"] = s.Config.ServerVersion
	metadata["supportedFlows"] = []string{"authorization_code"}
	metadata["authorizationFlowEndpoint"] = s.Config.AuthorizationEndpoint()
	metadata["tokenCallbackEndpoint"] = s.Config.TokenEndpoint()
	metadata["metadataEndpoint"] = s.Config.MetadataEndpoint()

	if s.Config.EnableDynamicRegistration {
		metadata["registration_endpoint"] = s.Config.RegistrationEndpoint()
		metadata["registration_endpoint_auth_methods_supported"] = []string{"bearer"}
		metadata["client_registration_types_supported"] = []string{"dynamic"}
	}

	metadata["pkce_notes"] = map[string]any{
		"provider":        s.provider.Name(),
		"dual_validation": DualValidationNote,
		"requirements":    s.provider.PKCERequirements(),
	}
	return metadata
}

// MCPAuthorizationServerMetadata is AuthorizationServerMetadata with the MCP extension members.
func (s *Server) MCPAuthorizationServerMetadata() map[string]any {
	metadata := s.AuthorizationServerMetadata()
	metadata["mcp_version"] = s.Config.MCPVersion
	metadata["mcp_extensions"] = map[string]any{
		"automatic_flow":    true,
		"bearer_token_auth": true,
		"pkce_required":     s.Config.EnablePKCE,
	}
	return metadata
}

// ProtectedResourceMetadata returns the RFC 9728 protected resource document
func (s *Server) ProtectedResourceMetadata() map[string]any {
	base := s.Config.BaseURL()
	return map[string]any{
		"resource":                 base,
		"authorization_servers":    []string{base},
		"scopes_supported":         s.provider.SupportedScopes(),
		"bearer_methods_supported": []string{"header"},
		"resource_documentation":   base + "/docs",
	}
}

// MCPProtectedResourceMetadata returns the protected resource document MCP clients read
func (s *Server) MCPProtectedResourceMetadata() map[string]any {
	base := s.Config.BaseURL()
	metadata := map[string]any{
		"mcpVersion":               s.Config.MCPVersion,
		"serverName":               s.Config.ServerName,
		"serverVersion":            s.Config.ServerVersion,
		"protocolVersion":          "1.0",
		"resource":                 base,
		"authorization_servers":    []string{base},
		"scopes_required":          s.Config.ScopesRequired,
		"scopes_supported":         s.provider.SupportedScopes(),
		"bearer_methods_supported": []string{"header"},
		"oauth_flows_supported":    []string{"authorization_code"},
		"authorization_endpoint":   s.Config.AuthorizationEndpoint(),
		"token_endpoint":           s.Config.TokenEndpoint(),
		"mcp_endpoints": map[string]string{
			"tools":     base + "/mcp/tools",
			"resources": base + "/mcp/resources",
		},
	}
	if s.Config.EnableDynamicRegistration {
		metadata["registration_endpoint"] = s.Config.RegistrationEndpoint()
	}
	return metadata
}

// AppInfo describes this server and its provider
func (s *Server) AppInfo() map[string]any {
	return map[string]any{
		"name":                   s.Config.ServerName,
		"version":                s.Config.ServerVersion,
		"provider":               s.provider.Name(),
		"authorization_endpoint": s.Config.AuthorizationEndpoint(),
		"token_endpoint":         s.Config.TokenEndpoint(),
		"scopes":                 s.provider.SupportedScopes(),
		"pkce_supported":         s.Config.EnablePKCE,
	}
}
