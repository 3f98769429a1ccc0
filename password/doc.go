// Package password hashes and verifies secrets with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsRehash] reports hashes produced with weaker parameters so a
// caller can re-hash after the next successful login. Length and
// confirmation rules for new passwords live with the flow engine, not here.
package password
