// SPDX-License-Identifier: MPL-2.0

// Package protocol defines the coordinator wire contract.
//
// A client opens a TCP connection, writes one JSON request and reads one
// raw status token until the server closes the connection:
//
//	-> {"id":"web","action":"pre-dump","dependencies":"db:cache"}
//	<- ACK
//
// The add-dependencies action carries an object instead of a string and
// seeds the coordinator registry:
//
//	-> {"id":"","action":"add-dependencies","dependencies":{"web":["db"],"db":["web"]}}
//	<- ACK
package protocol
