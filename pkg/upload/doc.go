// Package upload stages browser uploads before they are forwarded to the
// remote API's files endpoint.
//
// Large uploads do not travel over the live channel. The page POSTs the file
// to the staging endpoint, gets a temp_id back, and later commits it. The
// commit claims the staged file and streams it to the remote API with the
// session's client, so the file is created as the logged-in user.
//
// Staged files are bound to the profile that uploaded them; another session
// cannot commit them. Stores are either a local directory or an S3 bucket.
package upload
