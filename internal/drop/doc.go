// Package drop implements the share-code lifecycle of the file drop: minting
// codes, binding uploaded batches to them, single-use redemption and the
// sweep that reconciles blob storage with the metadata store.
//
// Collaborators (blob store, metadata store, QR encoder) are injected through
// NewService so that every operation can run against fakes in tests.
package drop
