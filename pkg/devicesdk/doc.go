// Package devicesdk is the client SDK for the device-bound authentication
// service. It carries the wire types shared by the HTTP handlers and the
// client, a thin HTTP client for each endpoint, and an Authenticator that
// drives the full enroll/challenge/sign/verify flow with a local signer.
package devicesdk
