// Package objectstore holds build payloads and results under flat, key-derived
// object names. The JetStream implementation backs production; Memory backs
// tests and single-process demos.
package objectstore
