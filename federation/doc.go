// Package federation verifies identities asserted by an external provider
// and reduces them to a (provider, subject) pair that the coordinator maps
// onto a local account.
//
// Two stages are provided: [IDTokenStage] verifies a signed OpenID Connect
// ID token, and [OAuth2Stage] exchanges an authorization code and reads the
// subject from the provider's userinfo endpoint. Redirects and state
// handling belong to the caller.
package federation
