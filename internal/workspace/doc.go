// Package workspace owns each job's private scratch space.
//
// A WorkingSet is a directory named buildrelay-<key>-<random> under the
// configured scratch root. It holds the downloaded archive and the extracted
// tree, and Release removes all of it. The Janitor periodically sweeps
// buildrelay-* entries left behind by crashed workers.
package workspace
