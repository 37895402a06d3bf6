// Package providers contains provider-specific session-manager variants.
//
// The core manager is provider-agnostic; the variants here install the
// authsession.Hooks extension points (scope-set composition, token
// endpoint resolution, authorization-request parameters, token-response
// transformation) and occasionally override individual methods through
// embedding:
//
//   - providers/microsoft: Microsoft Entra ID. Splits api:// resource
//     scopes from identity scopes into separate scope sets and falls
//     back to the identity token when no resource API is configured.
//   - providers/google: Google via a backend token proxy, for
//     deployments where the client secret must stay server-side.
//
// Both constructors accept a plain authsession.Config and return a type
// that satisfies authsession.SessionManager, so variants drop into a
// Selector unchanged.
package providers
