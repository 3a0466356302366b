// Package document holds the read-only segment and document records supplied by the
// backend API, and a client for listing documents.
package document
