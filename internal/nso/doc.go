// Package nso implements the Nintendo Switch Online authentication flow:
// the interactive PKCE login that yields the long-lived session token, and
// the token exchanges (coral Account/Login, Game/GetWebServiceToken, bullet
// token issuance) that derive the rest of the credential chain from it.
//
// Coral calls require an f signature from an external signing service; that
// handshake is consumed as an opaque HTTP capability through the Signer
// interface. Client version strings are cached per Authenticator instance.
package nso
