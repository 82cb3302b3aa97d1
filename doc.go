// Package entree is a single sign-on authority for a family of web sites
// plus the pieces a relying site needs to trust it.
//
// Identities:
//   - Identity is the account record. Email is normalized (trimmed, lower
//     cased) before every write and passwords are bcrypt hashes.
//   - Saving an inactive identity revokes every AUTH token it owns.
//
// Tokens:
//   - LoginToken values are 40 char upper case hex checksums salted with a
//     random value. MAIL and RESET tokens are obtained with get-or-create and
//     pruned to the most recently touched one. AUTH tokens back a login
//     session and are deleted on logout, password change and reset.
//
// Sites and profiles:
//   - EntreeSite holds the secret shared with a relying site. Requests coming
//     from a site carry CalcChecksum("<site>:<token>", secret) so the authority
//     can reject forged profile fetches.
//   - SiteProperty defines typed profile attributes. Resident properties
//     (owned by the resident site) are inherited by every site and their slugs
//     never collide with site scoped ones.
//   - Profile data is cached per (identity, site) and invalidated on write.
//
// The client subpackage implements the relying site side: cookie checksums,
// profile fetch and a local user store.
package entree
