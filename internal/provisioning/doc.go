// Package provisioning drives the device identity lifecycle.
//
// Every device enters the fleet through the same three steps:
//
//	Register  - a Registration row is created with an Argon2id-hashed
//	            pairing secret; the cleartext secret is returned once
//	IssueProvisioningToken - the registration flips to provisioned and
//	            gets a one-time token plus the QR payload installers scan
//	Pair      - the device proves its secret, the token is consumed, and
//	            the operational Device record is created
//
// Batches wrap the Register step for factory runs: members that fail
// (duplicate MAC, missing fields) are reported individually while the rest
// commit, and the batch records how many registrations actually exist.
//
// # Authentication
//
// Pair returns ErrAuthenticationFailed for both a wrong secret and an
// unknown device identifier, after the same amount of Argon2id work, so
// probing cannot distinguish the two cases.
//
// # Concurrency
//
// Pairing completes inside one transaction with a conditional UPDATE on
// paired = 0. Under concurrent attempts for the same device exactly one
// succeeds; the rest get ErrAlreadyPaired.
package provisioning
